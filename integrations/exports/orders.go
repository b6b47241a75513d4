package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"janus/crypto"
	"janus/native/escrow"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat resolves a user supplied format name. The empty string selects CSV.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, true
	case FormatJSONL:
		return FormatJSONL, true
	case FormatParquet:
		return FormatParquet, true
	default:
		return "", false
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv"
	}
}

// Row is the flattened export view of one order.
type Row struct {
	Buyer        string `json:"buyer"`
	Seller       string `json:"seller"`
	ID           uint64 `json:"id"`
	Price        string `json:"price"`
	Status       string `json:"status"`
	RefundStatus string `json:"refund_status"`
	Display      uint8  `json:"display"`
	CreatedAt    string `json:"created_at"`
	AcceptedAt   string `json:"accepted_at,omitempty"`
}

// RowOf flattens an order.
func RowOf(o *escrow.Order) Row {
	price := "0"
	if o.Price != nil {
		price = o.Price.String()
	}
	return Row{
		Buyer:        crypto.FormatAddress(o.Buyer),
		Seller:       crypto.FormatAddress(o.Seller),
		ID:           o.ID,
		Price:        price,
		Status:       o.Status.String(),
		RefundStatus: o.RefundStatus.String(),
		Display:      uint8(o.Display()),
		CreatedAt:    formatUnix(o.CreatedAt),
		AcceptedAt:   formatUnix(o.AcceptedAt),
	}
}

// Encode renders orders in the requested format and returns the payload with
// its SHA-256 checksum.
func Encode(format Format, orders []*escrow.Order) ([]byte, string, error) {
	switch format {
	case FormatJSONL:
		return OrdersJSONL(orders)
	case FormatParquet:
		return OrdersParquet(orders)
	default:
		return OrdersCSV(orders)
	}
}

// OrdersCSV builds a CSV export for the supplied orders and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func OrdersCSV(orders []*escrow.Order) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"buyer", "seller", "id", "price", "status", "refund_status", "display", "created_at", "accepted_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, order := range orders {
		if order == nil {
			continue
		}
		row := RowOf(order)
		record := []string{
			row.Buyer,
			row.Seller,
			strconv.FormatUint(row.ID, 10),
			row.Price,
			row.Status,
			row.RefundStatus,
			strconv.Itoa(int(row.Display)),
			row.CreatedAt,
			row.AcceptedAt,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

// OrdersJSONL builds a JSON Lines export for the supplied orders.
func OrdersJSONL(orders []*escrow.Order) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, order := range orders {
		if order == nil {
			continue
		}
		if err := encoder.Encode(RowOf(order)); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}

func checksummed(data []byte) ([]byte, string, error) {
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func formatUnix(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
