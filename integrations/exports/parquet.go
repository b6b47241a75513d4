package exports

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"janus/native/escrow"
)

type parquetRow struct {
	Buyer        string `parquet:"name=buyer, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Seller       string `parquet:"name=seller, type=UTF8, encoding=PLAIN_DICTIONARY"`
	ID           int64  `parquet:"name=id, type=INT64"`
	Price        string `parquet:"name=price, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Status       string `parquet:"name=status, type=UTF8, encoding=PLAIN_DICTIONARY"`
	RefundStatus string `parquet:"name=refund_status, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Display      int32  `parquet:"name=display, type=INT32"`
	CreatedAt    string `parquet:"name=created_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
	AcceptedAt   string `parquet:"name=accepted_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// OrdersParquet builds a SNAPPY compressed Parquet export. Prices are kept as
// decimal strings since they may exceed 64 bits.
func OrdersParquet(orders []*escrow.Order) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, order := range orders {
		if order == nil {
			continue
		}
		row := RowOf(order)
		pr := &parquetRow{
			Buyer:        row.Buyer,
			Seller:       row.Seller,
			ID:           int64(row.ID),
			Price:        row.Price,
			Status:       row.Status,
			RefundStatus: row.RefundStatus,
			Display:      int32(row.Display),
			CreatedAt:    row.CreatedAt,
			AcceptedAt:   row.AcceptedAt,
		}
		if err := pw.Write(pr); err != nil {
			_ = pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	return checksummed(buffer.Bytes())
}
