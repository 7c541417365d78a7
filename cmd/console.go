package cmd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/atotto/clipboard"
	"github.com/manifoldco/promptui"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"brld/internal/brlapi"
	"brld/internal/config"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive BrlAPI client for poking a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsole()
	},
}

type paramNames []string

func (p paramNames) String(i int) string { return p[i] }
func (p paramNames) Len() int            { return len(p) }

func runConsole() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	conn, err := net.Dial(cfg.Listen.Network, cfg.Listen.Address)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	if _, _, err := readMessage(reader); err != nil { // Version greeting
		return fmt.Errorf("reading version greeting: %w", err)
	}

	names := make(paramNames, 0, len(cfg.Params))
	for name := range cfg.Params {
		names = append(names, name)
	}

	for {
		prompt := promptui.Select{
			Label: "brld console",
			Items: []string{"Watch a parameter", "Exit"},
		}
		idx, _, err := prompt.Run()
		if err != nil {
			return nil
		}
		if idx == 1 {
			return nil
		}

		search := promptui.Prompt{Label: "Parameter name (fuzzy)"}
		query, err := search.Run()
		if err != nil {
			continue
		}

		matches := fuzzy.Find(query, names)
		if len(matches) == 0 {
			fmt.Println("no matching parameter")
			continue
		}
		name := names[matches[0].Index]

		id := hashParamName(name)
		reqPayload := make([]byte, 9)
		binary.BigEndian.PutUint32(reqPayload[0:4], id)
		binary.BigEndian.PutUint32(reqPayload[4:8], 0)
		reqPayload[8] = 1 // watch

		if _, err := conn.Write(brlapi.EncodeMessage(brlapi.ParamRequest, reqPayload)); err != nil {
			return fmt.Errorf("sending param request: %w", err)
		}

		msgType, payload, err := readMessage(reader)
		if err != nil {
			return fmt.Errorf("reading param response: %w", err)
		}
		if msgType != brlapi.ParamValue || len(payload) < 12 {
			fmt.Printf("unexpected response for %s: type=%v\n", name, msgType)
			continue
		}
		value := string(payload[12:])
		fmt.Printf("%s = %q\n", name, value)

		if err := clipboard.WriteAll(value); err != nil {
			fmt.Printf("(clipboard unavailable: %v)\n", err)
		} else {
			fmt.Println("(copied to clipboard)")
		}
	}
}

func readMessage(r *bufio.Reader) (brlapi.MessageType, []byte, error) {
	header := make([]byte, brlapi.HeaderSize)
	if _, err := readFull(r, header); err != nil {
		return 0, nil, err
	}
	hdr, err := brlapi.DecodeHeader(header)
	if err != nil {
		return 0, nil, err
	}
	payload := make([]byte, hdr.Length)
	if _, err := readFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr.Type, payload, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
