// Package mcu talks to a microcontroller running Klipper-compatible
// firmware and exposes its SPI buses as core.Transport.
package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tmcgo/host/serial"
	"tmcgo/protocol"
)

var (
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownCommand = errors.New("command not in dictionary")
)

// identify and identify_response have fixed ids so the dictionary can be
// fetched before anything else is known.
const (
	identifyCmdID      = 1
	identifyResponseID = 0
	identifyChunk      = 40
	identifyMaxChunks  = 4096
)

// DefaultResponseTimeout bounds queries.
const DefaultResponseTimeout = time.Second

// Dictionary is the parsed data dictionary reported by the MCU.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]any            `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]any `json:"enumerations,omitempty"`
}

func lookup(table map[string]int, name string) (int, bool) {
	if id, ok := table[name]; ok {
		return id, true
	}
	// entries are keyed by full format string: "name arg=%u ..."
	for format, id := range table {
		if strings.HasPrefix(format, name+" ") {
			return id, true
		}
	}
	return 0, false
}

// CommandID returns the id of the named command.
func (d *Dictionary) CommandID(name string) (uint16, error) {
	id, ok := lookup(d.Commands, name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return uint16(id), nil
}

// ResponseID returns the id of the named response.
func (d *Dictionary) ResponseID(name string) (uint32, error) {
	id, ok := lookup(d.Responses, name)
	if !ok {
		return 0, fmt.Errorf("%w: response %s", ErrUnknownCommand, name)
	}
	return uint32(id), nil
}

// MCU is a connection to one microcontroller.
type MCU struct {
	transport *protocol.HostTransport
	log       logrus.FieldLogger

	dictionary *Dictionary
	raw        []byte

	// ResponseTimeout bounds each query; DefaultResponseTimeout if zero.
	ResponseTimeout time.Duration
}

// Connect opens device with the default serial settings.
func Connect(device string, log logrus.FieldLogger) (*MCU, error) {
	return ConnectWithConfig(serial.DefaultConfig(device), log)
}

// ConnectWithConfig opens the serial port described by cfg.
func ConnectWithConfig(cfg serial.Config, log logrus.FieldLogger) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	m := ConnectPort(port, log)
	m.log.WithField("device", cfg.Device).Info("connected to MCU")
	return m, nil
}

// ConnectPort uses an already open byte stream.
func ConnectPort(port io.ReadWriteCloser, log logrus.FieldLogger) *MCU {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MCU{
		transport: protocol.NewHostTransport(port, log),
		log:       log,
	}
}

// Close shuts down the transport and the port.
func (m *MCU) Close() error {
	return m.transport.Close()
}

func (m *MCU) responseTimeout() time.Duration {
	if m.ResponseTimeout > 0 {
		return m.ResponseTimeout
	}
	return DefaultResponseTimeout
}

// RetrieveDictionary reads the data dictionary in chunks with identify and
// parses it. Compressed dictionaries are inflated first.
func (m *MCU) RetrieveDictionary() error {
	var buf bytes.Buffer
	for i := 0; i < identifyMaxChunks; i++ {
		chunk, err := m.identify(uint32(buf.Len()), identifyChunk)
		if err != nil {
			return fmt.Errorf("retrieve dictionary at offset %d: %w", buf.Len(), err)
		}
		buf.Write(chunk)
		if len(chunk) < identifyChunk {
			break
		}
	}
	m.log.WithField("bytes", buf.Len()).Debug("dictionary retrieved")

	raw := buf.Bytes()
	if len(raw) >= 2 && raw[0] == 0x78 {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("decompress dictionary: %w", err)
		}
		inflated, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return fmt.Errorf("decompress dictionary: %w", err)
		}
		m.log.WithFields(logrus.Fields{"compressed": len(raw), "bytes": len(inflated)}).Debug("dictionary decompressed")
		raw = inflated
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(raw, dict); err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}
	m.dictionary = dict
	m.raw = raw
	m.log.WithFields(logrus.Fields{
		"version":   dict.Version,
		"commands":  len(dict.Commands),
		"responses": len(dict.Responses),
	}).Info("dictionary loaded")
	return nil
}

func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	payload, err := m.exchange(identifyCmdID, func(b []byte) []byte {
		b = protocol.AppendVLQUint(b, offset)
		return protocol.AppendVLQUint(b, uint32(count))
	}, identifyResponseID, func(p []byte) bool {
		got, err := protocol.DecodeVLQUint(&p)
		return err == nil && got == offset
	})
	if err != nil {
		return nil, err
	}
	if _, err := protocol.DecodeVLQUint(&payload); err != nil {
		return nil, err
	}
	return protocol.DecodeVLQBytes(&payload)
}

// exchange sends a command and waits for the response with respID whose
// arguments satisfy match. The response arguments are returned.
func (m *MCU) exchange(cmdID uint16, args func([]byte) []byte, respID uint32, match func([]byte) bool) ([]byte, error) {
	if err := m.transport.SendCommand(cmdID, args); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(m.responseTimeout())
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w waiting for response %d", protocol.ErrResponseTimeout, respID)
		}
		msg, err := m.transport.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}
		p := msg.Payload
		id, err := protocol.DecodeVLQUint(&p)
		if err != nil || id != respID || (match != nil && !match(p)) {
			m.log.WithField("id", id).Debug("ignoring unrelated response")
			continue
		}
		return p, nil
	}
}

// Dictionary returns the parsed dictionary, or nil before RetrieveDictionary.
func (m *MCU) Dictionary() *Dictionary { return m.dictionary }

// RawDictionary returns the uncompressed dictionary JSON.
func (m *MCU) RawDictionary() []byte { return m.raw }

// SendCommand sends the named command and waits for its acknowledgement.
func (m *MCU) SendCommand(name string, args func(b []byte) []byte) error {
	if m.dictionary == nil {
		return ErrNoDictionary
	}
	id, err := m.dictionary.CommandID(name)
	if err != nil {
		return err
	}
	if err := m.transport.SendCommand(id, args); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Query sends the named command and returns the arguments of the first
// response called resp that satisfies match.
func (m *MCU) Query(name string, args func(b []byte) []byte, resp string, match func(p []byte) bool) ([]byte, error) {
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	cmdID, err := m.dictionary.CommandID(name)
	if err != nil {
		return nil, err
	}
	respID, err := m.dictionary.ResponseID(resp)
	if err != nil {
		return nil, err
	}
	p, err := m.exchange(cmdID, args, respID, match)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return p, nil
}

// WriteSummary prints the dictionary contents to w.
func (m *MCU) WriteSummary(w io.Writer) error {
	d := m.dictionary
	if d == nil {
		return ErrNoDictionary
	}
	fmt.Fprintf(w, "version: %s\n", d.Version)
	if d.BuildVersions != "" {
		fmt.Fprintf(w, "build:   %s\n", d.BuildVersions)
	}
	for _, section := range []struct {
		title string
		table map[string]int
	}{{"commands", d.Commands}, {"responses", d.Responses}} {
		fmt.Fprintf(w, "%s (%d):\n", section.title, len(section.table))
		names := make([]string, 0, len(section.table))
		for name := range section.table {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool { return section.table[names[i]] < section.table[names[j]] })
		for _, name := range names {
			fmt.Fprintf(w, "  [%3d] %s\n", section.table[name], name)
		}
	}
	return nil
}
