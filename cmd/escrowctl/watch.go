package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"nhooyr.io/websocket"
)

// runWatch prints stream frames, one JSON document per line, until
// interrupted or -count frames have been received.
func runWatch(args []string, stdout, stderr io.Writer) int {
	cmd := newGatewayCommand("watch", stderr, false)
	var after uint64
	var count int
	var consumer string
	cmd.fs.Uint64Var(&after, "after", 0, "resume after this journal sequence")
	cmd.fs.StringVar(&consumer, "consumer", "", "named consumer whose position the gateway stores")
	cmd.fs.IntVar(&count, "count", 0, "stop after this many events; 0 streams until interrupted")
	if !cmd.parse(args, stderr) {
		return 1
	}
	client, err := cmd.client.client()
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := watch(ctx, client, after, consumer, count, stdout); err != nil {
		return handleCallError(stderr, err)
	}
	return 0
}

func streamURL(client *gatewayClient, after uint64, consumer string) string {
	u := *client.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/v1/stream"
	query := url.Values{}
	if after > 0 {
		query.Set("after", strconv.FormatUint(after, 10))
	}
	if consumer != "" {
		query.Set("consumer", consumer)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func watch(ctx context.Context, client *gatewayClient, after uint64, consumer string, count int, stdout io.Writer) error {
	header := http.Header{}
	client.authorize(header)
	conn, resp, err := websocket.Dial(ctx, streamURL(client, after, consumer), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return decodeAPIError(resp.StatusCode, body)
		}
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for received := 0; count <= 0 || received < count; received++ {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		writeRaw(stdout, data)
	}
	return nil
}
