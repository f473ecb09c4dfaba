package businessflow

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/utils"
)

const exportPageSize = 500

// ExportLogs renders the full dispatch log of a campaign as an xlsx workbook
func (s *CampaignFlowImpl) ExportLogs(ctx context.Context, ownerID, campaignID uint, channel models.Channel) (string, []byte, error) {
	c, err := s.ownedCampaign(ctx, ownerID, campaignID, channel)
	if err != nil {
		return "", nil, err
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := "DispatchLog"
	if err := xl.SetSheetName(xl.GetSheetName(0), sheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to prepare sheet", err)
	}

	header := []any{"Lead ID", "Recipient", "Status", "Message", "Subject", "Due At", "Sent At", "Delivered At", "Error"}
	if err := xl.SetSheetRow(sheet, "A1", &header); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write header", err)
	}

	row := 2
	for offset := 0; ; offset += exportPageSize {
		entries, _, err := s.logRepo.ListByCampaign(ctx, c.ID, nil, exportPageSize, offset)
		if err != nil {
			return "", nil, NewBusinessError("LIST_LOGS_FAILED", "Failed to list dispatch logs", err)
		}

		for _, e := range entries {
			if err := writeExportRow(xl, sheet, row, exportRow(e)); err != nil {
				return "", nil, err
			}
			row++
		}
		if len(entries) < exportPageSize {
			break
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write excel", err)
	}

	filename := fmt.Sprintf("campaign_%d_dispatch_log.xlsx", c.ID)
	return filename, buf.Bytes(), nil
}

func writeExportRow(xl *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to address row", err)
	}
	if err := xl.SetSheetRow(sheet, cell, &values); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write row", err)
	}
	return nil
}

func exportRow(e *models.DispatchLogEntry) []any {
	return []any{
		e.LeadID,
		e.Recipient,
		string(e.Status),
		e.RenderedMessage,
		utils.Deref(e.RenderedSubject),
		utils.Deref(utils.FormatRFC3339Ptr(e.DueAt)),
		utils.Deref(utils.FormatRFC3339Ptr(e.SentAt)),
		utils.Deref(utils.FormatRFC3339Ptr(e.DeliveredAt)),
		utils.Deref(e.ErrorMessage),
	}
}
