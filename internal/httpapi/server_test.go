package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/openstrap/internal/httpapi"
	"github.com/srg/openstrap/internal/ingest"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/stretchr/testify/suite"
)

type ServerTestSuite struct {
	suite.Suite
	srv     *httptest.Server
	static  string
	capture []byte
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	logger, _ := test.NewNullLogger()
	s.static = s.T().TempDir()
	s.Require().NoError(os.WriteFile(filepath.Join(s.static, "index.html"), []byte("<html>strap</html>"), 0o644))

	server := httpapi.NewServer(httpapi.ServerOptions{StaticDir: s.static, MaxUploadBytes: 4096}, logger)
	s.srv = httptest.NewServer(server.Handler())
	s.T().Cleanup(s.srv.Close)

	s.capture = nil
	for i, rr := range [][]uint16{{800, 810}, {790}} {
		f := &protocol.Frame{
			Type: protocol.PacketTypeHistoricalData,
			Data: protocol.EncodeHistoryData(1700000000+uint32(i), 0, uint8(60+i), rr),
		}
		s.capture = append(s.capture, f.MustEncode()...)
	}
}

func (s *ServerTestSuite) TestClientRoundTrip() {
	// GOAL: Verify an uploaded capture decodes to the same records as local batch parsing

	client := httpapi.NewClient(s.srv.URL, 5*time.Second)
	got, err := client.ParseHistory(context.Background(), "capture.bin", s.capture)
	s.Require().NoError(err)

	want, _ := ingest.ParseHistory(s.capture, nil)
	s.Equal(want, got)
	s.Require().Len(got, 2)
	s.InDelta(15.811, *got[1].HRVRMSSD, 0.001)
}

func (s *ServerTestSuite) TestPartsAreConcatenated() {
	// GOAL: Verify a capture split across multipart fields is parsed as one stream

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	half := len(s.capture)/2 + 3
	for _, chunk := range [][]byte{s.capture[:half], s.capture[half:]} {
		part, err := mw.CreateFormFile("file", "chunk.bin")
		s.Require().NoError(err)
		_, err = part.Write(chunk)
		s.Require().NoError(err)
	}
	s.Require().NoError(mw.Close())

	resp, err := http.Post(s.srv.URL+httpapi.ParseHistoryPath, mw.FormDataContentType(), &body)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var records []ingest.ParsedRecord
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&records))
	s.Len(records, 2)
}

func (s *ServerTestSuite) TestRejectsNonMultipart() {
	resp, err := http.Post(s.srv.URL+httpapi.ParseHistoryPath, "application/octet-stream", bytes.NewReader(s.capture))
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *ServerTestSuite) TestRejectsOversizedUpload() {
	client := httpapi.NewClient(s.srv.URL, 5*time.Second)
	_, err := client.ParseHistory(context.Background(), "big.bin", make([]byte, 8192))
	s.ErrorContains(err, "413")
}

func (s *ServerTestSuite) TestServesStaticFiles() {
	resp, err := http.Get(s.srv.URL + "/index.html")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *ServerTestSuite) TestListenAndServeReportsBoundAddr() {
	// GOAL: Verify Addr is readable from another goroutine while ListenAndServe runs, and cancel stops the server
	//
	// TEST SCENARIO: listen on port 0 → poll Addr until set → GET /healthz → cancel → ListenAndServe returns nil

	logger, _ := test.NewNullLogger()
	server := httpapi.NewServer(httpapi.ServerOptions{}, logger)
	s.Empty(server.Addr(), "Addr MUST be empty before listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(ctx, "127.0.0.1:0")
	}()

	s.Require().Eventually(func() bool {
		return server.Addr() != ""
	}, 2*time.Second, 10*time.Millisecond, "bound address MUST be published")

	resp, err := http.Get("http://" + server.Addr() + "/healthz")
	s.Require().NoError(err)
	_ = resp.Body.Close()
	s.Equal(http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		s.NoError(err, "graceful shutdown MUST return nil")
	case <-time.After(5 * time.Second):
		s.Fail("ListenAndServe MUST return after cancel")
	}
}
