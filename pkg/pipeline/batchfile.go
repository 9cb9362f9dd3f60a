package pipeline

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-telemetry/pkg/envelope"
)

const (
	// Lines shorter than this are blank or placeholder noise from the uploader.
	minLineLength = 6
	// byteArrayArtifact is the degenerate line a buggy upstream serializer
	// emits when it stringifies a raw byte array.
	byteArrayArtifact = "System.Byte[]"
	// maxLineBytes bounds a single batch-file line.
	maxLineBytes = 1024 * 1024

	auditTimeFormat = "2006-01-02 15:04:05.000"
)

// ProcessFile handles one upload notification end to end: filter ignorable
// notifications, locate and decompress the object, feed each line through the
// per-message pipeline, and write the audit log back next to the source
// object.
func (p *Processor) ProcessFile(ctx context.Context, raw []byte, source string) Outcome {
	var n envelope.StorageNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		p.logger.Error().Err(err).Str("source", source).Msg("Upload notification did not decode.")
		return Outcome{Message: "Invalid storage notification!"}
	}

	deviceID := envelope.DeviceIDFromSubject(n.Subject)
	logger := p.logger.With().Str("source", source).Str("device_id", deviceID).Logger()

	// Deletions carry no payload to ingest, and our own audit logs must never
	// be reprocessed as input. Both are acknowledged as ignorable, not errors.
	if n.EventType == envelope.EventTypeBlobDeleted {
		msg := fmt.Sprintf("File '%s' was deleted!", n.Subject)
		logger.Info().Msg(msg)
		return Outcome{Success: true, Message: msg}
	}
	if strings.HasSuffix(strings.ToLower(n.Subject), ".log") {
		msg := fmt.Sprintf("Log File ignored: '%s'", n.Subject)
		logger.Info().Msg(msg)
		return Outcome{Success: true, Message: msg}
	}

	objectName := objectNameFromSubject(n.Subject, logger)
	return p.processFileContents(ctx, objectName, source)
}

// objectNameFromSubject strips the cloud-resource prefix up to the upload
// container, leaving the object path the blob source understands. The
// result usually keeps a leading slash; the fetch path compensates.
func objectNameFromSubject(subject string, logger zerolog.Logger) string {
	marker := UploadContainer + "/blobs"
	if i := strings.Index(subject, marker); i >= 0 {
		return subject[i+len(marker):]
	}
	// Platform timer triggers write status blobs that also raise upload
	// notifications; that noise is expected. Anything else deserves a look.
	if !strings.Contains(subject, "azure-webjobs-hosts/blobs/timers") {
		logger.Warn().Str("subject", subject).Msg("Upload notification does not reference the upload container; using subject as object name.")
	}
	return subject
}

func (p *Processor) processFileContents(ctx context.Context, objectName, source string) Outcome {
	deviceID := envelope.DeviceIDFromFileName(objectName)
	logger := p.logger.With().Str("source", source).Str("device_id", deviceID).Str("object", objectName).Logger()

	lower := strings.ToLower(objectName)
	if strings.HasSuffix(lower, ".log") {
		msg := fmt.Sprintf("File %s is being ignored because it is a log file!", objectName)
		logger.Warn().Msg(msg)
		return Outcome{Success: true, Message: msg}
	}
	if !strings.HasSuffix(lower, ".zip") && !strings.HasSuffix(lower, ".json") {
		// An unexpected file type is an integration mismatch, not a transient
		// failure; retrying would not help, so it is reported as handled.
		msg := fmt.Sprintf("File %s is being ignored because it did not end with .json or .zip!", objectName)
		logger.Warn().Msg(msg)
		return Outcome{Success: true, Message: msg}
	}

	if p.blobs == nil {
		msg := "No blob source configured for file processing!"
		logger.Error().Msg(msg)
		return Outcome{Message: msg}
	}

	data, err := p.fetchObject(ctx, objectName)
	if err != nil {
		msg := fmt.Sprintf("%s alert message was received but file was not found!", objectName)
		logger.Error().Err(err).Msg(msg)
		return Outcome{Message: msg}
	}

	if strings.HasSuffix(lower, ".zip") {
		data, err = unzipFirstEntry(data)
		if err != nil {
			msg := fmt.Sprintf("Error decompressing %s: %s", objectName, err)
			logger.Error().Err(err).Msg(msg)
			return Outcome{Message: msg}
		}
	}

	started := time.Now()
	var audit bytes.Buffer
	fmt.Fprintf(&audit, "%s: Starting to process file %s...\n", time.Now().UTC().Format(auditTimeFormat), objectName)

	var seen, succeeded, failed int
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < minLineLength || line == byteArrayArtifact {
			continue
		}
		// Naive array-to-lines serialization upstream leaves a dangling comma.
		if strings.HasSuffix(line, "},") {
			line = line[:len(line)-1]
		}

		seen++
		out := p.ProcessMessage(ctx, []byte(line), source)
		fmt.Fprintf(&audit, "%t %s\n", out.Success, out.Message)
		if out.Success {
			succeeded++
		} else {
			failed++
		}
	}
	if err := scanner.Err(); err != nil {
		msg := fmt.Sprintf("Error processing %s: %d records read, %d processed, %d failed.", objectName, seen, succeeded, failed)
		logger.Error().Err(err).Msg(msg)
		return Outcome{Message: msg}
	}

	// The file succeeds only when it held at least one record and every
	// record delivered. Each line was still attempted independently.
	success := seen > 0 && succeeded == seen
	status := "successfully"
	if !success {
		status = "unsuccessfully"
	}
	trailer := fmt.Sprintf("%s: Finished %s processing %s for device %s; Elapsed: %d ms; %d records in file; %d records processed successfully; %d failed!",
		time.Now().UTC().Format(auditTimeFormat), status, objectName, deviceID,
		time.Since(started).Milliseconds(), seen, succeeded, failed)
	audit.WriteString(trailer + "\n")
	if success {
		logger.Info().Msg(trailer)
	} else {
		logger.Error().Msg(trailer)
	}

	// The audit log is written regardless of outcome so even failed batches
	// leave a trail.
	logName := auditLogName(objectName)
	if err := p.blobs.Write(ctx, logName, audit.Bytes()); err != nil {
		logger.Warn().Err(err).Str("log_object", logName).Msg("Failed to write audit log.")
	}

	return Outcome{Success: success, Message: fmt.Sprintf("Done processing file %s!", objectName)}
}

// fetchObject tries the object name as notified and retries once without the
// leading slash; subjects keep theirs, stored objects do not.
func (p *Processor) fetchObject(ctx context.Context, objectName string) ([]byte, error) {
	data, err := p.blobs.Fetch(ctx, objectName)
	if errors.Is(err, ErrObjectNotFound) && strings.HasPrefix(objectName, "/") {
		return p.blobs.Fetch(ctx, strings.TrimPrefix(objectName, "/"))
	}
	return data, err
}

// unzipFirstEntry decompresses the first entry of a zip archive. Batch
// uploads only ever contain a single entry.
func unzipFirstEntry(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	if len(zr.File) == 0 {
		return nil, errors.New("zip archive has no entries")
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %s: %w", zr.File[0].Name, err)
	}
	defer func() { _ = rc.Close() }()

	contents, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read zip entry %s: %w", zr.File[0].Name, err)
	}
	return contents, nil
}

// auditLogName swaps the batch file's extension for .log, keeping the base
// name so the log lands next to its source.
func auditLogName(objectName string) string {
	if strings.HasSuffix(strings.ToLower(objectName), ".zip") {
		return objectName[:len(objectName)-len(".zip")] + ".log"
	}
	return objectName[:len(objectName)-len(".json")] + ".log"
}
