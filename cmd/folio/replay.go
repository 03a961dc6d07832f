package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/annotate"
	"github.com/MarcoPoloResearchLab/folio/internal/annotations"
	"github.com/MarcoPoloResearchLab/folio/internal/config"
	"github.com/MarcoPoloResearchLab/folio/internal/gateway"
	"github.com/MarcoPoloResearchLab/folio/internal/logging"
	"github.com/MarcoPoloResearchLab/folio/internal/progress"
	"github.com/MarcoPoloResearchLab/folio/internal/reader"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	replayStepMutation = "mutation"
	replayStepPage     = "page"
	replayStepReady    = "ready"
	replayStepRemount  = "remount"

	replayCloseTimeout = 5 * time.Second
	maxReplayLineBytes = 4 << 20
)

var errUnknownReplayStep = errors.New("replay: unknown step type")

// replayStep is one line of a replay script.
type replayStep struct {
	Type       string         `json:"type"`
	Event      annotate.Event `json:"event"`
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
}

func newReplayCommand() *cobra.Command {
	var documentKey string
	var scriptPath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Open a document and feed it a JSON-lines script of surface events",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := cmd.InOrStdin()
			if scriptPath != "" && scriptPath != "-" {
				file, err := os.Open(scriptPath)
				if err != nil {
					return err
				}
				defer file.Close()
				input = file
			}
			return runReplay(cmd.Context(), documentKey, input, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&documentKey, "document", "", "Document key to open")
	cmd.Flags().StringVar(&scriptPath, "script", "-", "Replay script path, - for stdin")
	_ = cmd.MarkFlagRequired("document")
	return cmd
}

func runReplay(ctx context.Context, documentKey string, input io.Reader, output io.Writer) error {
	readerConfig, err := config.LoadReader(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLoggerWithOptions(logging.Options{Level: readerConfig.LogLevel, FilePath: readerConfig.LogFile})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	client, err := gateway.New(gateway.Config{BaseURL: readerConfig.BackendURL, Token: readerConfig.Token, Logger: logger})
	if err != nil {
		return err
	}
	cache, err := progress.OpenSQLiteCache(readerConfig.CachePath, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	surface := newScriptSurface(output)
	document, err := reader.New(reader.Config{
		DocumentKey:   documentKey,
		UserID:        readerConfig.UserID,
		Backend:       client,
		LocalCache:    cache,
		Surface:       surface,
		ViewportWidth: readerConfig.ViewportWidth,
		FlushInterval: readerConfig.FlushInterval,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	result := document.Start(ctx)
	surface.emit(map[string]any{
		"opened":      documentKey,
		"annotations": result.Seed.Loaded,
		"skipped":     result.Seed.Skipped,
		"resume_page": result.ResumePage,
		"session_id":  result.SessionID,
	})

	replayErr := replayScript(ctx, document, surface, input, logger)

	closeCtx, cancel := context.WithTimeout(context.Background(), replayCloseTimeout)
	defer cancel()
	if err := document.Close(closeCtx); err != nil {
		logger.Warn("document close incomplete", zap.Error(err))
	}
	return replayErr
}

func replayScript(ctx context.Context, document *reader.Document, surface *scriptSurface, input io.Reader, logger *zap.Logger) error {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLineBytes)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var step replayStep
		if err := json.Unmarshal([]byte(line), &step); err != nil {
			return fmt.Errorf("replay line %d: %w", lineNumber, err)
		}
		if err := applyStep(ctx, document, surface, step); err != nil {
			return fmt.Errorf("replay line %d: %w", lineNumber, err)
		}
		logger.Debug("replay step applied", zap.Int("line", lineNumber), zap.String("type", step.Type))
	}
	return scanner.Err()
}

func applyStep(ctx context.Context, document *reader.Document, surface *scriptSurface, step replayStep) error {
	switch strings.ToLower(strings.TrimSpace(step.Type)) {
	case replayStepMutation:
		decision := document.HandleMutation(step.Event)
		surface.emit(map[string]any{
			"mutation":  step.Event.Type,
			"persist":   decision.Persist,
			"operation": decision.Operation,
			"reason":    decision.Reason,
		})
	case replayStepPage:
		accepted := document.HandlePageChange(ctx, step.Page, step.TotalPages)
		surface.emit(map[string]any{"page": step.Page, "accepted": accepted})
	case replayStepReady:
		document.SurfaceReady(ctx)
	case replayStepRemount:
		result, err := document.Remount(ctx)
		if err != nil {
			return err
		}
		surface.emit(map[string]any{"remount": result.Seeded, "annotations": result.Loaded})
	default:
		return fmt.Errorf("%w: %q", errUnknownReplayStep, step.Type)
	}
	return nil
}

// scriptSurface stands in for an editing surface by reporting what it is asked to do.
type scriptSurface struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newScriptSurface(output io.Writer) *scriptSurface {
	return &scriptSurface{encoder: json.NewEncoder(output)}
}

func (s *scriptSurface) Materialize(_ context.Context, loaded []annotations.Annotation) error {
	ids := make([]string, 0, len(loaded))
	for _, annotation := range loaded {
		ids = append(ids, annotation.ID)
	}
	s.emit(map[string]any{"materialize": ids})
	return nil
}

func (s *scriptSurface) NavigateTo(_ context.Context, page int, behavior progress.Behavior) error {
	s.emit(map[string]any{"navigate": page, "behavior": behavior})
	return nil
}

func (s *scriptSurface) emit(record map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.encoder.Encode(record)
}
