package reports

import (
	"io"

	"github.com/xuri/excelize/v2"

	"carbon-bridge/marketplace-backend/internal/ledger"
)

const salesSheet = "Sales"

// WriteSalesWorkbook renders the rows as an xlsx workbook.
func WriteSalesWorkbook(w io.Writer, rows []SaleRow) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(salesSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"Attempt", "Asset", "Vintage", "Buyer", "Credits", "Paid (XLM)", "Transfer Tx", "Completed"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(salesSheet, cell, h); err != nil {
			return err
		}
	}

	for i, row := range rows {
		values := []interface{}{
			row.AttemptID,
			row.AssetCode,
			row.VintageYear,
			row.BuyerAddress,
			ledger.FormatStroops(row.TokenStroops),
			ledger.FormatStroops(row.PaymentStroops),
			row.TransferTxHash,
			row.CompletedAt.Format("2006-01-02 15:04:05"),
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			if err := f.SetCellValue(salesSheet, cell, v); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(salesSheet, "A", "A", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(salesSheet, "D", "D", 58); err != nil {
		return err
	}

	return f.Write(w)
}
