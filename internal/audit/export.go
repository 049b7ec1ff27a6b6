package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dErrors "chronicle/pkg/domain-errors"
	"chronicle/pkg/requestcontext"
)

var csvHeader = []string{
	"id",
	"created_at",
	"organization_id",
	"module",
	"event_type",
	"action",
	"actor_id",
	"actor_type",
	"target_id",
	"target_type",
	"payload_version",
	"payload",
	"signature",
}

// Export renders the entries matching filter and signs the result. The
// signature covers the generation time, the format and an HMAC digest of the
// rendered bytes.
func (l *Ledger) Export(ctx context.Context, filter Filter, format ExportFormat) (*Export, error) {
	ctx, span := l.tracer.Start(ctx, "audit.Export", trace.WithAttributes(
		attribute.String("audit.export_format", string(format)),
	))
	defer span.End()

	if _, err := ParseExportFormat(string(format)); err != nil {
		return nil, err
	}
	entries, err := l.List(ctx, filter)
	if err != nil {
		span.SetStatus(codes.Error, "list failed")
		return nil, err
	}

	generatedAt := requestcontext.Now(ctx).Truncate(time.Microsecond)
	var (
		content     []byte
		contentType string
	)
	switch format {
	case ExportFormatJSON:
		content, err = renderJSON(entries)
		contentType = "application/json"
	case ExportFormatCSV:
		content, err = renderCSV(entries)
		contentType = "text/csv"
	}
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to render audit export")
	}

	signature, err := l.exportSignature(generatedAt, format, content)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign audit export")
	}

	l.metrics.IncrementExport(string(format))
	l.logger.InfoContext(ctx, "audit export generated",
		"format", format,
		"entries", len(entries),
		"request_id", requestcontext.RequestID(ctx),
	)
	return &Export{
		Format:      format,
		Filename:    fmt.Sprintf("audit-logs-%s.%s", generatedAt.Format("20060102150405"), format),
		ContentType: contentType,
		GeneratedAt: generatedAt,
		DataBase64:  base64.StdEncoding.EncodeToString(content),
		Signature:   signature,
		Filters:     filter,
	}, nil
}

// VerifyExport recomputes the signature of an export from its decoded
// content. A false result means the content, format or generation time was
// altered after signing.
func (l *Ledger) VerifyExport(exp *Export) (bool, error) {
	content, err := base64.StdEncoding.DecodeString(exp.DataBase64)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeBadRequest, "export data is not valid base64")
	}
	expected, err := l.exportSignature(exp.GeneratedAt, exp.Format, content)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recompute export signature")
	}
	return hmac.Equal([]byte(expected), []byte(exp.Signature)), nil
}

func (l *Ledger) exportSignature(generatedAt time.Time, format ExportFormat, content []byte) (string, error) {
	return l.signer.Sign(map[string]any{
		"generated_at": FormatTimestamp(generatedAt),
		"format":       string(format),
		"digest":       l.signer.Digest(content),
	})
}

func renderJSON(entries []*Entry) ([]byte, error) {
	if entries == nil {
		entries = []*Entry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func renderCSV(entries []*Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range entries {
		payload, err := EncodeCanonical(map[string]any(e.Payload))
		if err != nil {
			return nil, fmt.Errorf("encode payload of %s: %w", e.ID, err)
		}
		record := []string{
			e.ID.String(),
			FormatTimestamp(e.CreatedAt),
			e.OrganizationID,
			string(e.Module),
			string(e.EventType),
			e.Action,
			deref(e.ActorID),
			deref(e.ActorType),
			deref(e.TargetID),
			deref(e.TargetType),
			strconv.Itoa(e.PayloadVersion),
			string(payload),
			e.Signature,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
