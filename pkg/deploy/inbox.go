package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rtsoft/up2date/pkg/logging"
)

const (
	// DefaultPollInterval is how often the inbox directory is checked.
	DefaultPollInterval = 10 * time.Second

	actionSuffix = ".action.yaml"
	cancelSuffix = ".cancel"
	resultSuffix = ".result.yaml"
)

// Result is the feedback file written next to a processed action.
type Result struct {
	ID        int       `yaml:"id"`
	FileName  string    `yaml:"file_name"`
	Execution string    `yaml:"execution"`
	Finished  string    `yaml:"finished"`
	Message   string    `yaml:"message,omitempty"`
	Completed time.Time `yaml:"completed"`
}

// Inbox feeds actions dropped as files into a Worker.
// "<name>.action.yaml" holds an Info; "<id>.cancel" cancels a pending action.
// Outcomes are written as "<name>.result.yaml".
type Inbox struct {
	Dir        string
	Interval   time.Duration
	Worker     *Worker
	Downloader Downloader
}

// WriteAction drops info into dir for the service to pick up.
func WriteAction(dir string, info Info) (string, error) {
	data, err := yaml.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encoding deployment action: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating inbox directory: %w", err)
	}
	path := filepath.Join(dir, strconv.Itoa(info.ID)+actionSuffix)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("writing deployment action: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing deployment action: %w", err)
	}
	return path, nil
}

// ReadResult loads the result file of action id, if it exists.
func ReadResult(dir string, id int) (Result, error) {
	var r Result
	data, err := os.ReadFile(filepath.Join(dir, strconv.Itoa(id)+resultSuffix))
	if err != nil {
		return r, err
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parsing deployment result: %w", err)
	}
	return r, nil
}

// Run polls until ctx is done.
func (in *Inbox) Run(ctx context.Context) {
	interval := in.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	in.Poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.Poll()
		}
	}
}

// Poll processes whatever is in the inbox directory once.
func (in *Inbox) Poll() {
	entries, err := os.ReadDir(in.Dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("Cannot read action inbox", "path", in.Dir, "error", err)
		}
		return
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		path := filepath.Join(in.Dir, name)
		switch {
		case strings.HasSuffix(name, actionSuffix):
			in.submit(path)
		case strings.HasSuffix(name, cancelSuffix):
			in.cancel(path, strings.TrimSuffix(name, cancelSuffix))
		}
	}
}

func (in *Inbox) submit(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Warn("Cannot read deployment action", "path", path, "error", err)
		return
	}
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		logging.Error("Invalid deployment action, discarding", "path", path, "error", err)
		os.Remove(path)
		return
	}

	err = in.Worker.Submit(Action{Info: info, Downloader: in.Downloader, Done: in.writeResult})
	switch err {
	case nil, ErrDuplicateOrder:
	case ErrQueueFull:
		// Left in place; picked up on a later poll.
		return
	default:
		logging.Warn("Cannot queue deployment action", "action", info.ID, "error", err)
		return
	}
	if err := os.Remove(path); err != nil {
		logging.Warn("Cannot remove queued action file", "path", path, "error", err)
	}
}

func (in *Inbox) cancel(path, idText string) {
	defer os.Remove(path)
	id, err := strconv.Atoi(strings.TrimSpace(idText))
	if err != nil {
		logging.Warn("Ignoring malformed cancel request", "path", path)
		return
	}
	if !in.Worker.Cancel(id) {
		logging.Info("Nothing to cancel", "action", id)
	}
}

func (in *Inbox) writeResult(info Info, o Outcome) {
	r := Result{
		ID:        info.ID,
		FileName:  info.FileName,
		Execution: o.Execution.String(),
		Finished:  o.Finished.String(),
		Message:   o.Message,
		Completed: time.Now().UTC(),
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		logging.Error("Cannot encode deployment result", "action", info.ID, "error", err)
		return
	}
	path := filepath.Join(in.Dir, strconv.Itoa(info.ID)+resultSuffix)
	if err := os.WriteFile(path, data, 0644); err != nil {
		logging.Error("Cannot write deployment result", "action", info.ID, "error", err)
	}
}
