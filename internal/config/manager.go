package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PromptSpec is one mutable {model, prompt template} pair. Templates carry
// {query} and, for the synthesizer, {combined_reports} placeholders.
type PromptSpec struct {
	Model  string `yaml:"model"`
	Prompt string `yaml:"prompt"`
}

// promptsFile is the on-disk shape of the prompts configuration.
type promptsFile struct {
	Planner     PromptSpec            `yaml:"planner"`
	Synthesizer PromptSpec            `yaml:"synthesizer"`
	Agents      map[string]PromptSpec `yaml:"agents"`
}

// Manager serves the prompt/model configuration with hot reload. Callers
// fetch the current spec on every invocation; edits to the file apply to the
// next call without a restart.
type Manager struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}

	mu      sync.RWMutex
	current promptsFile
}

// NewManager loads the prompts file and begins watching it for changes.
// A missing file leaves the built-in defaults in place.
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
		current: defaultPrompts(),
	}
	if err := m.reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		logger.Info("Prompts file missing, using defaults", zap.String("path", path))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create prompts watcher: %w", err)
	}
	m.watcher = watcher
	// Watch the directory: editors replace files, which breaks file watches.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch prompts dir: %w", err)
	}
	go m.watch()
	return m, nil
}

func (m *Manager) watch() {
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := m.reload(); err != nil {
				m.logger.Warn("Failed to reload prompts", zap.Error(err))
				continue
			}
			m.logger.Info("Reloaded prompts configuration", zap.String("path", m.path))
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Prompts watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	loaded := defaultPrompts()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse prompts file: %w", err)
	}
	m.mu.Lock()
	m.current = loaded
	m.mu.Unlock()
	return nil
}

// Planner returns the current plan-phase model and prompt template.
func (m *Manager) Planner() PromptSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Planner
}

// Synthesizer returns the current synthesis model and prompt template.
func (m *Manager) Synthesizer() PromptSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Synthesizer
}

// Agent returns the current research prompt for one provider.
func (m *Manager) Agent(name string) PromptSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if spec, ok := m.current.Agents[name]; ok {
		return spec
	}
	return defaultPrompts().Agents[name]
}

// Close stops the file watcher.
func (m *Manager) Close() error {
	close(m.stopCh)
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

const deepResearchPrompt = `You are a deep research agent. Conduct comprehensive research on the following query and provide a detailed, well-structured report with citations where possible.

Query: {query}

Provide a thorough analysis covering:
1. Key findings and facts
2. Multiple perspectives
3. Supporting evidence
4. Conclusions and recommendations`

func defaultPrompts() promptsFile {
	return promptsFile{
		Planner: PromptSpec{
			Model: "claude-sonnet-4-20250514",
			Prompt: `You are a research supervisor. Create a brief research plan for this query:

Query: {query}

Output a concise 2-3 sentence plan explaining how three parallel deep research agents (Gemini, OpenAI, Perplexity) should approach this query.`,
		},
		Synthesizer: PromptSpec{
			Model: "claude-sonnet-4-20250514",
			Prompt: `You are a research synthesis expert. Analyze the following research reports from three different AI research agents and create a comprehensive consensus report.

Original Query: {query}

{combined_reports}

---

Create a well-structured consensus report in Markdown format that:
1. Synthesizes the key findings from all available reports
2. Identifies areas of agreement and any conflicting information
3. Provides a balanced, comprehensive answer to the original query
4. Includes citations where the source reports provided them
5. Highlights the most reliable and well-supported conclusions

Format with clear headers, bullet points, and proper Markdown formatting.`,
		},
		Agents: map[string]PromptSpec{
			"gemini": {
				Model:  "gemini-2.0-flash",
				Prompt: deepResearchPrompt,
			},
			"openai": {
				Model:  "o4-mini-deep-research",
				Prompt: deepResearchPrompt,
			},
			"perplexity": {
				Model: "sonar-pro",
				Prompt: `You are a deep research agent with access to real-time web data. Conduct comprehensive research on the following query and provide a detailed, well-structured report with citations.

Query: {query}

Provide a thorough analysis covering:
1. Key findings and facts (with sources)
2. Multiple perspectives
3. Supporting evidence
4. Conclusions and recommendations`,
			},
		},
	}
}
