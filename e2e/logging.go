//go:build e2e

package e2e

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/testcontainers/testcontainers-go"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func StripAnsi(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

type LogSource string

const (
	SourceStdout LogSource = "stdout"
	SourceStderr LogSource = "stderr"
)

type logKey struct {
	node   string
	source LogSource
}

// LogSubscription fires MatchCh once its pattern appears in the log of Node.
type LogSubscription struct {
	Node    string
	Source  LogSource
	Regex   *regexp.Regexp
	MatchCh chan struct{}
	// skip is the length of the history that existed when the subscription
	// was made with fresh set.
	skip int
}

func (s *LogSubscription) match(history string) bool {
	if s.skip > len(history) {
		return false
	}
	return s.Regex.MatchString(history[s.skip:])
}

func (s *LogSubscription) fire() {
	select {
	case s.MatchCh <- struct{}{}:
	default:
	}
}

// LogManager collects the output of every container of a harness and lets
// tests wait for lines to appear.
type LogManager struct {
	mu          sync.Mutex
	subscribers []*LogSubscription
	history     map[logKey]*strings.Builder
}

func NewLogManager() *LogManager {
	return &LogManager{history: make(map[logKey]*strings.Builder)}
}

func (m *LogManager) Accept(node string, source LogSource, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := logKey{node, source}
	b, ok := m.history[k]
	if !ok {
		b = &strings.Builder{}
		m.history[k] = b
	}
	b.WriteString(content)
	full := b.String()
	for _, sub := range m.subscribers {
		if sub.Node == node && sub.Source == source && sub.match(full) {
			sub.fire()
		}
	}
}

// Subscribe matches pattern against the log of node. Unless fresh is set,
// lines received before the call count too.
func (m *LogManager) Subscribe(node string, source LogSource, pattern string, fresh bool) (*LogSubscription, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	sub := &LogSubscription{
		Node:    node,
		Source:  source,
		Regex:   re,
		MatchCh: make(chan struct{}, 1),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.history[logKey{node, source}]; ok {
		if fresh {
			sub.skip = b.Len()
		} else if sub.match(b.String()) {
			sub.fire()
		}
	}
	m.subscribers = append(m.subscribers, sub)
	return sub, nil
}

func (m *LogManager) Unsubscribe(sub *LogSubscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = slices.DeleteFunc(m.subscribers, func(s *LogSubscription) bool {
		return s == sub
	})
}

// History returns everything node wrote to source so far.
func (m *LogManager) History(node string, source LogSource) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.history[logKey{node, source}]; ok {
		return b.String()
	}
	return ""
}

type UnifiedLogConsumer struct {
	Node    string
	Manager *LogManager
}

func (c *UnifiedLogConsumer) Accept(l testcontainers.Log) {
	source := SourceStdout
	if l.LogType == testcontainers.StderrLog {
		source = SourceStderr
	}
	content := StripAnsi(string(l.Content))
	fmt.Printf("[%s:%s] %s", c.Node, source, content)
	c.Manager.Accept(c.Node, source, content)
}
