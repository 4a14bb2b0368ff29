package exports

import (
	"fmt"
	"os"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"daopresale/native/presale"
)

type receiptRow struct {
	Sequence          int64  `parquet:"name=sequence, type=INT64"`
	Payer             string `parquet:"name=payer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payment           string `parquet:"name=payment, type=BYTE_ARRAY, convertedtype=UTF8"`
	Tokens            string `parquet:"name=tokens, type=BYTE_ARRAY, convertedtype=UTF8"`
	Commission        string `parquet:"name=commission, type=BYTE_ARRAY, convertedtype=UTF8"`
	Affiliate         string `parquet:"name=affiliate, type=BYTE_ARRAY, convertedtype=UTF8"`
	BeneficiaryAmount string `parquet:"name=beneficiary_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteReceiptsParquet writes receipts to path as a SNAPPY-compressed parquet
// file. Amounts are stored as decimal strings to keep full 256-bit precision.
func WriteReceiptsParquet(path string, receipts []*presale.PurchaseReceipt) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(receiptRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, receipt := range receipts {
		if receipt == nil {
			continue
		}
		row := &receiptRow{
			Sequence:          int64(receipt.Sequence),
			Payer:             receipt.Payer.Hex(),
			Payment:           presale.FormatAmount(receipt.PaymentAmount),
			Tokens:            presale.FormatAmount(receipt.TokensGranted),
			Commission:        presale.FormatAmount(receipt.AffiliateCommission),
			Affiliate:         optionalHex(receipt.AffiliateRecipient),
			BeneficiaryAmount: presale.FormatAmount(receipt.BeneficiaryAmount),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}
