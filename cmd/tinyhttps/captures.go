package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/tinyhttps/internal/server"
	"github.com/muurk/tinyhttps/internal/ui"
)

// Captures command flags
var (
	capturesDump bool
	capturesConn string
)

var capturesCmd = &cobra.Command{
	Use:   "captures <jsonl-file>",
	Short: "Summarize a WebSocket capture file",
	Long: `Read a capture file written by 'serve --capture-dir' and print a
summary per connection and per opcode. With --dump every message is printed
as a hex dump.`,
	Example: `  # Summary of today's capture
  tinyhttps captures captures/capture-20261017.jsonl

  # Hex dump of one connection's messages
  tinyhttps captures captures/capture-20261017.jsonl --dump --conn 3f2a`,
	Args: cobra.ExactArgs(1),
	RunE: runCaptures,
}

func init() {
	capturesCmd.Flags().BoolVar(&capturesDump, "dump", false, "Print a hex dump of every message")
	capturesCmd.Flags().StringVar(&capturesConn, "conn", "", "Only messages whose connection id starts with this prefix")
	rootCmd.AddCommand(capturesCmd)
}

// captureSummary aggregates capture records.
type captureSummary struct {
	Messages int
	Bytes    int
	Opcodes  map[string]int
	Conns    map[string]*connSummary
}

type connSummary struct {
	Remote   string
	Path     string
	Messages int
	Bytes    int
}

// readCaptures decodes JSONL capture records, skipping blank lines. A line
// that fails to decode is reported with its line number.
func readCaptures(r io.Reader, fn func(server.MessageCapture)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec server.MessageCapture
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		fn(rec)
	}
	return sc.Err()
}

func summarize(recs []server.MessageCapture) captureSummary {
	s := captureSummary{Opcodes: make(map[string]int), Conns: make(map[string]*connSummary)}
	for _, rec := range recs {
		s.Messages++
		s.Bytes += rec.PayloadLen
		s.Opcodes[rec.Opcode]++
		c, ok := s.Conns[rec.ConnID]
		if !ok {
			c = &connSummary{Remote: rec.RemoteAddr, Path: rec.Path}
			s.Conns[rec.ConnID] = c
		}
		c.Messages++
		c.Bytes += rec.PayloadLen
	}
	return s
}

func runCaptures(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()

	var recs []server.MessageCapture
	err = readCaptures(f, func(rec server.MessageCapture) {
		if capturesConn == "" || strings.HasPrefix(rec.ConnID, capturesConn) {
			recs = append(recs, rec)
		}
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if capturesDump {
		for i, rec := range recs {
			payload, err := hex.DecodeString(rec.PayloadHex)
			if err != nil {
				return fmt.Errorf("message %d: bad payload hex: %w", i+1, err)
			}
			fmt.Fprintf(out, "#%d %s %s %s %s %d bytes\n", i+1,
				rec.Timestamp.Format("15:04:05.000"), rec.ConnID, rec.Path, rec.Opcode, len(payload))
			fmt.Fprintln(out, hexDump(payload))
		}
	}

	s := summarize(recs)
	p := ui.NewPrinter(out)
	p.PrintSuccess("Capture summary", []ui.Field{
		{Key: "File", Value: args[0]},
		{Key: "Messages", Value: strconv.Itoa(s.Messages)},
		{Key: "Payload bytes", Value: strconv.Itoa(s.Bytes)},
		{Key: "Connections", Value: strconv.Itoa(len(s.Conns))},
		{Key: "Opcodes", Value: formatCounts(s.Opcodes)},
	})

	ids := make([]string, 0, len(s.Conns))
	for id := range s.Conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		c := s.Conns[id]
		rows = append(rows, []string{id, c.Remote, c.Path, strconv.Itoa(c.Messages), strconv.Itoa(c.Bytes)})
	}
	if len(rows) > 0 {
		p.PrintTable([]string{"CONNECTION", "REMOTE", "PATH", "MESSAGES", "BYTES"}, rows)
	}
	return nil
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, m[k]))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

// hexDump renders 16 bytes per line with offsets and an ASCII column.
func hexDump(payload []byte) string {
	var sb strings.Builder
	for i := 0; i < len(payload); i += 16 {
		fmt.Fprintf(&sb, "%04x  ", i)
		for j := 0; j < 16; j++ {
			if i+j < len(payload) {
				fmt.Fprintf(&sb, "%02x ", payload[i+j])
			} else {
				sb.WriteString("   ")
			}
			if j == 7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")
		for j := 0; j < 16 && i+j < len(payload); j++ {
			b := payload[i+j]
			if b >= 32 && b <= 126 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}
