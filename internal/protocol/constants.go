package protocol

// Marker is the first byte of every frame.
const Marker byte = 0xAA

const (
	// headerSize is marker + length + header crc8.
	headerSize = 4
	// trailerSize is the crc32 appended after the payload.
	trailerSize = 4
	// minPayloadSize is type + seq + cmd.
	minPayloadSize = 3
)

// GATT identifiers of the strap's custom service.
const (
	ServiceUUID         = "61080001-8d6d-82b8-614a-1c8cb0f8dcc6"
	CmdToStrapUUID      = "61080002-8d6d-82b8-614a-1c8cb0f8dcc6"
	CmdFromStrapUUID    = "61080003-8d6d-82b8-614a-1c8cb0f8dcc6"
	EventsFromStrapUUID = "61080004-8d6d-82b8-614a-1c8cb0f8dcc6"
	DataFromStrapUUID   = "61080005-8d6d-82b8-614a-1c8cb0f8dcc6"
)

// PacketType is the payload discriminant.
type PacketType uint8

const (
	PacketTypeCommand         PacketType = 0x23
	PacketTypeCommandResponse PacketType = 0x24
	PacketTypeRealtimeData    PacketType = 0x28
	PacketTypeHistoricalData  PacketType = 0x2F
	PacketTypeEvent           PacketType = 0x30
	PacketTypeMetadata        PacketType = 0x31
	PacketTypeConsoleLogs     PacketType = 0x32
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeCommand:
		return "command"
	case PacketTypeCommandResponse:
		return "command_response"
	case PacketTypeRealtimeData:
		return "realtime_data"
	case PacketTypeHistoricalData:
		return "historical_data"
	case PacketTypeEvent:
		return "event"
	case PacketTypeMetadata:
		return "metadata"
	case PacketTypeConsoleLogs:
		return "console_logs"
	default:
		return "unknown"
	}
}

// CommandNumber identifies a host-to-strap command.
type CommandNumber uint8

const (
	CmdLinkValid            CommandNumber = 1
	CmdSetClock             CommandNumber = 10
	CmdGetClock             CommandNumber = 11
	CmdSendHistoricalData   CommandNumber = 22
	CmdHistoricalDataResult CommandNumber = 23
	CmdGetHelloHarvard      CommandNumber = 35
	CmdEnterHighFreqSync    CommandNumber = 96
	CmdExitHighFreqSync     CommandNumber = 97
)

func (c CommandNumber) String() string {
	switch c {
	case CmdLinkValid:
		return "link_valid"
	case CmdSetClock:
		return "set_clock"
	case CmdGetClock:
		return "get_clock"
	case CmdSendHistoricalData:
		return "send_historical_data"
	case CmdHistoricalDataResult:
		return "historical_data_result"
	case CmdGetHelloHarvard:
		return "get_hello_harvard"
	case CmdEnterHighFreqSync:
		return "enter_high_freq_sync"
	case CmdExitHighFreqSync:
		return "exit_high_freq_sync"
	default:
		return "unknown"
	}
}

// MetadataType is carried in the cmd byte of PacketTypeMetadata frames.
type MetadataType uint8

const (
	MetadataHistoryStart    MetadataType = 1
	MetadataHistoryEnd      MetadataType = 2
	MetadataHistoryComplete MetadataType = 3
)
