package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

type command struct {
	name    string
	summary string
	run     func(args []string, stdout, stderr io.Writer) int
}

var commands []command

func init() {
	commands = []command{
		{"keygen", "Generate a keystore holding a new account key", runKeygen},
		{"address", "Print the address held by a keystore", runAddress},
		{"token", "Mint a gateway bearer token", runToken},
		{"buy", "Open an order and lock the payment", runBuy},
		{"accept", "Accept a paid order as the seller", runAccept},
		{"withdraw", "Reclaim a paid order after the acceptance window", runWithdraw},
		{"refund", "Request, revoke, resolve or withdraw a refund", runRefund},
		{"order", "Fetch one order", runOrder},
		{"custody", "Show the amount held for an order", runCustody},
		{"orders", "List the orders of a party", runOrders},
		{"count", "Count the orders of a party", runCount},
		{"order-at", "Fetch a party's order by index", runOrderAt},
		{"deposit", "Credit an account", runDeposit},
		{"balance", "Show an account balance", runBalance},
		{"policy", "Show the ledger policy and pause flags", runPolicy},
		{"admin", "Arbiter operations", runAdmin},
		{"export", "Download an order export and verify its checksum", runExport},
		{"watch", "Stream ledger events", runWatch},
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(stdout, usage())
		return 0
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd.run(args[1:], stdout, stderr)
		}
	}
	fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
	fmt.Fprintln(stderr, usage())
	return 1
}

func usage() string {
	var b strings.Builder
	b.WriteString("Usage:\n  escrowctl <command> [flags]\n\nCommands:\n")
	for _, cmd := range commands {
		fmt.Fprintf(&b, "  %-9s %s\n", cmd.name, cmd.summary)
	}
	b.WriteString("\nGateway commands read " + gatewayEnv + ", " + tokenEnv + " and " + callerEnv + ".")
	return b.String()
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("escrowctl "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if apiErr, ok := err.(*apiError); ok {
		fmt.Fprintln(w, apiErr.Error())
		return 1
	}
	fmt.Fprintf(w, "Request failed: %v\n", err)
	return 1
}

func writeRaw(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil && result[len(result)-1] != '\n' {
		fmt.Fprintln(w)
	}
}

func writeResult(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(w, "null")
		return
	}
	writeRaw(w, data)
}
