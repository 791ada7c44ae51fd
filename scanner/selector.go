package scanner

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Selector picks one device among scan candidates.
type Selector interface {
	Select(candidates []DiscoveredDevice) (int, error)
}

// Matcher is implemented by selectors that can recognise their device during the scan.
type Matcher interface {
	Match(d DiscoveredDevice) bool
}

// AddressSelector picks the device with an exact (case-insensitive) address.
type AddressSelector struct {
	Address string
}

func (s AddressSelector) Match(d DiscoveredDevice) bool {
	return strings.EqualFold(d.Address, strings.TrimSpace(s.Address))
}

func (s AddressSelector) Select(candidates []DiscoveredDevice) (int, error) {
	for i, d := range candidates {
		if s.Match(d) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("address %s: %w", s.Address, ErrNoDevice)
}

// NameSelector picks the first device whose sanitized name matches case-insensitively.
type NameSelector struct {
	Name string
}

func (s NameSelector) Match(d DiscoveredDevice) bool {
	return strings.EqualFold(d.Name, SanitizeName(s.Name))
}

func (s NameSelector) Select(candidates []DiscoveredDevice) (int, error) {
	for i, d := range candidates {
		if s.Match(d) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("name %q: %w", SanitizeName(s.Name), ErrNoDevice)
}

// FirstSelector picks the first candidate.
type FirstSelector struct{}

func (FirstSelector) Select(candidates []DiscoveredDevice) (int, error) {
	if len(candidates) == 0 {
		return -1, ErrNoDevice
	}
	return 0, nil
}

// PromptSelector lists candidates on Out and reads a 1-based choice from In.
type PromptSelector struct {
	In  io.Reader
	Out io.Writer
}

func (s PromptSelector) Select(candidates []DiscoveredDevice) (int, error) {
	if len(candidates) == 0 {
		return -1, ErrNoDevice
	}

	fmt.Fprintln(s.Out, "Select a device:")
	for i, d := range candidates {
		fmt.Fprintf(s.Out, "  [%d] %s (%s) RSSI %d\n", i+1, d.Name, d.Address, d.RSSI)
	}

	reader := bufio.NewReader(s.In)
	for {
		fmt.Fprintf(s.Out, "Enter number [1-%d]: ", len(candidates))
		line, err := reader.ReadString('\n')
		choice, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr == nil && choice >= 1 && choice <= len(candidates) {
			return choice - 1, nil
		}
		if err != nil {
			return -1, fmt.Errorf("read selection: %w", err)
		}
		fmt.Fprintln(s.Out, "Invalid selection.")
	}
}
