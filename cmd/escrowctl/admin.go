package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"janus/gateway/routes"
)

func adminUsage() string {
	return strings.TrimSpace(`Usage:
  escrowctl admin <command> [flags]

Commands:
  pause           Halt all state-changing operations
  unpause         Resume state-changing operations
  pause-orders    Stop accepting new orders
  unpause-orders  Accept new orders again
  owner           Hand the arbiter role to -owner
  renounce        Give up the arbiter role
  disputes        List pending refund requests
  events          Page through the event journal
  verify          Check the journal hash chain
`)
}

var adminToggles = map[string]string{
	"pause":          "/v1/admin/pause",
	"unpause":        "/v1/admin/unpause",
	"pause-orders":   "/v1/admin/new-orders/pause",
	"unpause-orders": "/v1/admin/new-orders/unpause",
	"renounce":       "/v1/admin/renounce",
}

func runAdmin(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
	name, rest := args[0], args[1:]
	if path, ok := adminToggles[name]; ok {
		cmd := newGatewayCommand("admin "+name, stderr, true)
		if !cmd.parse(rest, stderr) {
			return 1
		}
		return cmd.send(path, nil, stdout, stderr)
	}
	switch name {
	case "owner":
		cmd := newGatewayCommand("admin owner", stderr, true)
		var owner string
		cmd.fs.StringVar(&owner, "owner", "", "new arbiter address")
		if !cmd.parse(rest, stderr) {
			return 1
		}
		owner, err := requireAddress("owner", owner)
		if err != nil {
			return printError(stderr, err.Error())
		}
		return cmd.send("/v1/admin/owner", map[string]string{"owner": owner}, stdout, stderr)
	case "disputes":
		cmd := newGatewayCommand("admin disputes", stderr, false)
		if !cmd.parse(rest, stderr) {
			return 1
		}
		return cmd.fetch("/v1/admin/disputes", nil, stdout, stderr)
	case "events":
		cmd := newGatewayCommand("admin events", stderr, false)
		var after uint64
		var limit int
		cmd.fs.Uint64Var(&after, "after", 0, "return entries after this sequence")
		cmd.fs.IntVar(&limit, "limit", 0, "maximum entries; server default when 0")
		if !cmd.parse(rest, stderr) {
			return 1
		}
		query := url.Values{"after": {strconv.FormatUint(after, 10)}}
		if limit > 0 {
			query.Set("limit", strconv.Itoa(limit))
		}
		return cmd.fetch("/v1/admin/events", query, stdout, stderr)
	case "verify":
		cmd := newGatewayCommand("admin verify", stderr, false)
		if !cmd.parse(rest, stderr) {
			return 1
		}
		return cmd.fetch("/v1/admin/journal/verify", nil, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown admin subcommand: %s\n", name)
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
}

// runExport downloads an export and refuses to write it when the body does
// not match the advertised checksum.
func runExport(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("export", stderr, false)
	var format, out string
	cmd.fs.StringVar(&format, "format", "csv", "csv, jsonl or parquet")
	cmd.fs.StringVar(&out, "out", "", "output file; stdout when empty")
	if !cmd.parse(args, stderr) {
		return 1
	}
	client, err := cmd.client.client()
	if err != nil {
		return printError(stderr, err.Error())
	}
	body, header, err := client.download(context.Background(), "/v1/admin/export", url.Values{"format": {format}})
	if err != nil {
		return handleCallError(stderr, err)
	}
	sum := sha256.Sum256(body)
	if want := header.Get(routes.ChecksumHeader); !strings.EqualFold(want, hex.EncodeToString(sum[:])) {
		return printError(stderr, fmt.Sprintf("checksum mismatch: header %q", want))
	}
	if out == "" {
		_, _ = stdout.Write(body)
		return 0
	}
	if err := os.WriteFile(out, body, 0o600); err != nil {
		return printError(stderr, err.Error())
	}
	writeResult(stdout, map[string]any{"file": out, "bytes": len(body), "sha256": hex.EncodeToString(sum[:])})
	return 0
}
