package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-gatekeeper/reporting"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

const (
	AllLogsFilename = "all.log"
	FailedDirname   = "failed"
)

// ResultSink is an interface for different ways of consuming suite results
type ResultSink interface {
	// Consume processes a single suite result
	Consume(result types.SuiteResult) error
	// Complete is called once the run has a verdict
	Complete(summary types.RunSummary) error
}

var (
	_ ResultSink = (*AllLogsFileSink)(nil)
	_ ResultSink = (*FailedLogSink)(nil)
	_ ResultSink = (*RawJSONSink)(nil)
	_ ResultSink = (*reporting.ReportingHTMLSink)(nil)
	_ ResultSink = (*reporting.ReportingTextSummarySink)(nil)
)

// RunDirectory returns the directory holding the artifacts of runID
func RunDirectory(baseDir, runID string) string {
	return filepath.Join(baseDir, runID)
}

// Config configures a FileLogger
type Config struct {
	Log     log.Logger
	BaseDir string
	RunID   string
	// Sinks are consulted after the built-in ones.
	Sinks []ResultSink
}

// FileLogger collects the artifacts of one run under <BaseDir>/<RunID>
type FileLogger struct {
	log          log.Logger
	runID        string
	logDir       string
	failedDir    string
	mu           sync.Mutex
	sinks        []ResultSink
	asyncWriters map[string]*AsyncFile
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	log     log.Logger
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	err     error
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(path string, logger log.Logger) (*AsyncFile, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}
	if logger == nil {
		logger = log.New()
	}
	af := &AsyncFile{
		file:  file,
		log:   logger,
		queue: make(chan []byte, 100),
	}
	af.wg.Add(1)
	go af.processQueue()
	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()
	if af.stopped {
		return errors.New("async file is closed")
	}
	af.queue <- append([]byte(nil), data...)
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()
	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			af.log.Error("Error writing run artifact", "file", af.file.Name(), "err", err)
			if af.err == nil {
				af.err = err
			}
		}
	}
}

// Close drains pending writes and closes the file. It returns the first write error.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	af.wg.Wait()
	return errors.Join(af.err, af.file.Close())
}

// NewFileLogger creates the run directory and registers the default sinks
func NewFileLogger(cfg Config) (*FileLogger, error) {
	if cfg.RunID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}

	logDir := RunDirectory(cfg.BaseDir, cfg.RunID)
	failedDir := filepath.Join(logDir, FailedDirname)
	for _, dir := range []string{logDir, failedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	l := &FileLogger{
		log:          cfg.Log.New("component", "file-logger", "runId", cfg.RunID),
		runID:        cfg.RunID,
		logDir:       logDir,
		failedDir:    failedDir,
		asyncWriters: make(map[string]*AsyncFile),
	}

	htmlSink, err := reporting.NewReportingHTMLSink(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTML sink: %w", err)
	}
	l.sinks = append(l.sinks,
		&AllLogsFileSink{logger: l},
		&FailedLogSink{logger: l},
		&RawJSONSink{logger: l},
		htmlSink,
		reporting.NewReportingTextSummarySink(logDir),
	)
	l.sinks = append(l.sinks, cfg.Sinks...)
	return l, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}
	writer, err := NewAsyncFile(path, l.log)
	if err != nil {
		return nil, err
	}
	l.asyncWriters[path] = writer
	return writer, nil
}

func (l *FileLogger) closeAllWriters() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var result error
	for _, writer := range l.asyncWriters {
		result = errors.Join(result, writer.Close())
	}
	l.asyncWriters = make(map[string]*AsyncFile)
	return result
}

// LogSuiteResult feeds a suite result to every sink. All sinks see the result even if one fails.
func (l *FileLogger) LogSuiteResult(result types.SuiteResult) error {
	var errs error
	for _, sink := range l.sinks {
		if err := sink.Consume(result); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	return errs
}

// Complete finalizes all sinks and closes all file writers
func (l *FileLogger) Complete(summary types.RunSummary) error {
	var result error
	for _, sink := range l.sinks {
		if err := sink.Complete(summary); err != nil {
			result = errors.Join(result, fmt.Errorf("%T: %w", sink, err))
		}
	}
	if err := l.closeAllWriters(); err != nil {
		result = errors.Join(result, err)
	}
	l.log.Debug("Run artifacts written", "dir", l.logDir)
	return result
}

// GetDirectory returns the run directory
func (l *FileLogger) GetDirectory() string {
	return l.logDir
}

// GetFailedDir returns the directory containing logs for failed suites
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetAllLogsFile returns the path to the combined log file
func (l *FileLogger) GetAllLogsFile() string {
	return filepath.Join(l.logDir, AllLogsFilename)
}

// readLogs returns the concatenated, ANSI-stripped content of a result's log files
func readLogs(result types.SuiteResult) (string, error) {
	var b strings.Builder
	for _, ref := range result.ArtifactRefs {
		content, err := os.ReadFile(ref)
		if err != nil {
			return "", fmt.Errorf("failed to read suite log %s: %w", ref, err)
		}
		b.WriteString(stripansi.Strip(string(content)))
	}
	return b.String(), nil
}

func resultHeader(result types.SuiteResult) string {
	return fmt.Sprintf("=== %s [%s] attempts=%d exit=%d duration=%s ===\n",
		result.SuiteID, result.Status, result.Attempts, result.ExitCode, result.Duration)
}

// AllLogsFileSink appends every suite's output to all.log
type AllLogsFileSink struct {
	logger *FileLogger
}

// Consume writes a header and the suite output to all.log
func (s *AllLogsFileSink) Consume(result types.SuiteResult) error {
	writer, err := s.logger.getAsyncWriter(s.logger.GetAllLogsFile())
	if err != nil {
		return err
	}
	content, readErr := readLogs(result)
	var b strings.Builder
	b.WriteString(resultHeader(result))
	b.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	if result.Error != "" {
		b.WriteString("error: " + result.Error + "\n")
	}
	b.WriteString("\n")
	return errors.Join(readErr, writer.Write([]byte(b.String())))
}

// Complete is a no-op; all.log is closed with the other writers
func (s *AllLogsFileSink) Complete(types.RunSummary) error {
	return nil
}

// FailedLogSink copies the output of failed suites into failed/<suite>.log
type FailedLogSink struct {
	logger *FileLogger
}

// Consume writes failed/<suite>.log for suites whose status counts as a failure
func (s *FailedLogSink) Consume(result types.SuiteResult) error {
	if !result.Status.IsFailure() {
		return nil
	}
	content, readErr := readLogs(result)
	var b strings.Builder
	b.WriteString(resultHeader(result))
	b.WriteString(content)
	if result.Error != "" {
		b.WriteString("\nerror: " + result.Error + "\n")
	}
	path := filepath.Join(s.logger.failedDir, safeFilename(result.SuiteID)+".log")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return errors.Join(readErr, fmt.Errorf("failed to write %s: %w", path, err))
	}
	return readErr
}

// Complete is a no-op
func (s *FailedLogSink) Complete(types.RunSummary) error {
	return nil
}

// safeFilename converts a suite id to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	return strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
	).Replace(s)
}
