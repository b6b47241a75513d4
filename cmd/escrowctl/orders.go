package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"janus/crypto"
)

// gatewayCommand bundles the flag set and client flags of one subcommand.
type gatewayCommand struct {
	fs     *flag.FlagSet
	client clientFlags
}

func newGatewayCommand(name string, stderr io.Writer, mutating bool) *gatewayCommand {
	cmd := &gatewayCommand{fs: newFlagSet(name, stderr)}
	cmd.client.register(cmd.fs, mutating)
	return cmd
}

func (c *gatewayCommand) parse(args []string, stderr io.Writer) bool {
	if err := c.fs.Parse(args); err != nil {
		return false
	}
	if c.fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

// send posts body to path and prints the response.
func (c *gatewayCommand) send(path string, body any, stdout, stderr io.Writer) int {
	return c.exec(http.MethodPost, path, nil, body, stdout, stderr)
}

// fetch issues a GET and prints the response.
func (c *gatewayCommand) fetch(path string, query url.Values, stdout, stderr io.Writer) int {
	return c.exec(http.MethodGet, path, query, nil, stdout, stderr)
}

func (c *gatewayCommand) exec(method, path string, query url.Values, body any, stdout, stderr io.Writer) int {
	client, err := c.client.client()
	if err != nil {
		return printError(stderr, err.Error())
	}
	result, err := client.call(context.Background(), method, path, query, body, c.client.idempotency)
	if err != nil {
		return handleCallError(stderr, err)
	}
	writeRaw(stdout, result)
	return 0
}

func requireAddress(flagName, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("-%s is required", flagName)
	}
	if _, err := crypto.ParseAddress(trimmed); err != nil {
		return "", fmt.Errorf("-%s must be a bech32 address", flagName)
	}
	return trimmed, nil
}

func requireID(value uint64) error {
	if value == 0 {
		return fmt.Errorf("-id must be a positive order id")
	}
	return nil
}

func runBuy(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("buy", stderr, true)
	var seller, price, payment string
	cmd.fs.StringVar(&seller, "seller", "", "seller address")
	cmd.fs.StringVar(&price, "price", "", "order price (supports 100e18 shorthand)")
	cmd.fs.StringVar(&payment, "payment", "", "attached payment; defaults to the price")
	if !cmd.parse(args, stderr) {
		return 1
	}
	seller, err := requireAddress("seller", seller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	normalizedPrice, err := normalizeAmount("price", price)
	if err != nil {
		return printError(stderr, err.Error())
	}
	body := map[string]string{"seller": seller, "price": normalizedPrice}
	if strings.TrimSpace(payment) != "" {
		if body["payment"], err = normalizeAmount("payment", payment); err != nil {
			return printError(stderr, err.Error())
		}
	}
	return cmd.send("/v1/orders", body, stdout, stderr)
}

func runAccept(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("accept", stderr, true)
	var buyer, price string
	var id uint64
	cmd.fs.StringVar(&buyer, "buyer", "", "buyer address")
	cmd.fs.Uint64Var(&id, "id", 0, "order id")
	cmd.fs.StringVar(&price, "price", "", "expected order price")
	if !cmd.parse(args, stderr) {
		return 1
	}
	buyer, err := requireAddress("buyer", buyer)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := requireID(id); err != nil {
		return printError(stderr, err.Error())
	}
	normalizedPrice, err := normalizeAmount("price", price)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return cmd.send("/v1/orders/accept", map[string]any{"buyer": buyer, "id": id, "price": normalizedPrice}, stdout, stderr)
}

func runWithdraw(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("withdraw", stderr, true)
	var buyer string
	var id uint64
	cmd.fs.StringVar(&buyer, "buyer", "", "buyer address")
	cmd.fs.Uint64Var(&id, "id", 0, "order id")
	if !cmd.parse(args, stderr) {
		return 1
	}
	buyer, err := requireAddress("buyer", buyer)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := requireID(id); err != nil {
		return printError(stderr, err.Error())
	}
	return cmd.send("/v1/orders/withdraw", map[string]any{"buyer": buyer, "id": id}, stdout, stderr)
}

func refundUsage() string {
	return strings.TrimSpace(`Usage:
  escrowctl refund <request|revoke|withdraw> -seller <addr> -id <n>
  escrowctl refund resolve -buyer <addr> -seller <addr> -id <n> -outcome <accepted|declined>
`)
}

func runRefund(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, refundUsage())
		return 1
	}
	switch args[0] {
	case "request", "revoke", "withdraw":
		return runBuyerRefund(args[0], args[1:], stdout, stderr)
	case "resolve":
		return runResolve(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown refund subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, refundUsage())
		return 1
	}
}

func runBuyerRefund(action string, args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("refund "+action, stderr, true)
	var seller string
	var id uint64
	cmd.fs.StringVar(&seller, "seller", "", "seller address")
	cmd.fs.Uint64Var(&id, "id", 0, "order id")
	if !cmd.parse(args, stderr) {
		return 1
	}
	seller, err := requireAddress("seller", seller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := requireID(id); err != nil {
		return printError(stderr, err.Error())
	}
	return cmd.send("/v1/refunds/"+action, map[string]any{"seller": seller, "id": id}, stdout, stderr)
}

func runResolve(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("refund resolve", stderr, true)
	var buyer, seller, outcome string
	var id uint64
	cmd.fs.StringVar(&buyer, "buyer", "", "buyer address")
	cmd.fs.StringVar(&seller, "seller", "", "seller address")
	cmd.fs.Uint64Var(&id, "id", 0, "order id")
	cmd.fs.StringVar(&outcome, "outcome", "", "accepted or declined")
	if !cmd.parse(args, stderr) {
		return 1
	}
	buyer, err := requireAddress("buyer", buyer)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if seller, err = requireAddress("seller", seller); err != nil {
		return printError(stderr, err.Error())
	}
	if err := requireID(id); err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(outcome) == "" {
		return printError(stderr, "-outcome is required")
	}
	body := map[string]any{"buyer": buyer, "seller": seller, "id": id, "outcome": strings.TrimSpace(outcome)}
	return cmd.send("/v1/refunds/resolve", body, stdout, stderr)
}

// orderTriple registers and validates the (buyer, seller, id) key.
type orderTriple struct {
	buyer, seller string
	id            uint64
}

func (o *orderTriple) register(fs *flag.FlagSet) {
	fs.StringVar(&o.buyer, "buyer", "", "buyer address")
	fs.StringVar(&o.seller, "seller", "", "seller address")
	fs.Uint64Var(&o.id, "id", 0, "order id")
}

func (o *orderTriple) path() (string, error) {
	buyer, err := requireAddress("buyer", o.buyer)
	if err != nil {
		return "", err
	}
	seller, err := requireAddress("seller", o.seller)
	if err != nil {
		return "", err
	}
	if err := requireID(o.id); err != nil {
		return "", err
	}
	return fmt.Sprintf("/v1/orders/%s/%s/%d", buyer, seller, o.id), nil
}

func runOrder(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("order", stderr, false)
	var key orderTriple
	key.register(cmd.fs)
	if !cmd.parse(args, stderr) {
		return 1
	}
	path, err := key.path()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return cmd.fetch(path, nil, stdout, stderr)
}

func runCustody(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("custody", stderr, false)
	var key orderTriple
	key.register(cmd.fs)
	if !cmd.parse(args, stderr) {
		return 1
	}
	path, err := key.path()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return cmd.fetch(path+"/custody", nil, stdout, stderr)
}

// partyFlags registers and validates an enumerated party and its role.
type partyFlags struct {
	party, role string
}

func (p *partyFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.party, "party", "", "party address")
	fs.StringVar(&p.role, "role", "buyer", "buyer or seller")
}

func (p *partyFlags) resolve() (string, url.Values, error) {
	party, err := requireAddress("party", p.party)
	if err != nil {
		return "", nil, err
	}
	role := strings.ToLower(strings.TrimSpace(p.role))
	if role != "buyer" && role != "seller" {
		return "", nil, fmt.Errorf("-role must be buyer or seller")
	}
	return "/v1/parties/" + party + "/orders", url.Values{"role": {role}}, nil
}

func runOrders(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("orders", stderr, false)
	var p partyFlags
	var offset, limit uint64
	p.register(cmd.fs)
	cmd.fs.Uint64Var(&offset, "offset", 0, "first index to return")
	cmd.fs.Uint64Var(&limit, "limit", 0, "maximum orders to return; server default when 0")
	if !cmd.parse(args, stderr) {
		return 1
	}
	path, query, err := p.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	query.Set("offset", strconv.FormatUint(offset, 10))
	if limit > 0 {
		query.Set("limit", strconv.FormatUint(limit, 10))
	}
	return cmd.fetch(path, query, stdout, stderr)
}

func runCount(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("count", stderr, false)
	var p partyFlags
	p.register(cmd.fs)
	if !cmd.parse(args, stderr) {
		return 1
	}
	path, query, err := p.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return cmd.fetch(path+"/count", query, stdout, stderr)
}

func runOrderAt(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("order-at", stderr, false)
	var p partyFlags
	var index uint64
	p.register(cmd.fs)
	cmd.fs.Uint64Var(&index, "index", 0, "zero-based position in the party's list")
	if !cmd.parse(args, stderr) {
		return 1
	}
	path, query, err := p.resolve()
	if err != nil {
		return printError(stderr, err.Error())
	}
	return cmd.fetch(path+"/"+strconv.FormatUint(index, 10), query, stdout, stderr)
}

func runDeposit(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("deposit", stderr, true)
	var account, amount string
	cmd.fs.StringVar(&account, "account", "", "account to credit")
	cmd.fs.StringVar(&amount, "amount", "", "amount to credit (supports 100e18 shorthand)")
	if !cmd.parse(args, stderr) {
		return 1
	}
	account, err := requireAddress("account", account)
	if err != nil {
		return printError(stderr, err.Error())
	}
	normalized, err := normalizeAmount("amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return cmd.send("/v1/deposits", map[string]string{"account": account, "amount": normalized}, stdout, stderr)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("balance", stderr, false)
	var account string
	cmd.fs.StringVar(&account, "account", "", "account address")
	if !cmd.parse(args, stderr) {
		return 1
	}
	account, err := requireAddress("account", account)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return cmd.fetch("/v1/accounts/"+account+"/balance", nil, stdout, stderr)
}

func runPolicy(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("policy", stderr, false)
	if !cmd.parse(args, stderr) {
		return 1
	}
	return cmd.fetch("/v1/policy", nil, stdout, stderr)
}

// normalizeAmount accepts plain integers and the 100e18 shorthand.
func normalizeAmount(flagName, value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("-%s is required", flagName)
	}
	exponent := 0
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		exp, err := strconv.ParseInt(strings.TrimSpace(trimmed[idx+1:]), 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation in -%s", flagName)
		}
		exponent = int(exp)
	}
	base = strings.TrimPrefix(base, "+")
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("-%s must be positive", flagName)
	}
	integer, fraction, _ := strings.Cut(base, ".")
	if strings.Contains(fraction, ".") {
		return "", fmt.Errorf("invalid -%s format", flagName)
	}
	digits := integer + fraction
	if digits == "" || strings.Trim(digits, "0123456789") != "" {
		return "", fmt.Errorf("invalid -%s format", flagName)
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fraction)
	for fracLen > 0 && digits != "" && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	shift := exponent - fracLen
	if shift < 0 {
		return "", fmt.Errorf("-%s must be an integer", flagName)
	}
	if digits == "" {
		return "", fmt.Errorf("-%s must be positive", flagName)
	}
	return digits + strings.Repeat("0", shift), nil
}
