package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/xid"
)

var (
	queueURL         string
	region           string
	numberOfMessages int
	concurrency      int
	invalidRatio     float64
	sendTimeout      time.Duration
	currentPattern   WorkloadPattern
)

func init() {
	queueURL = getEnv("QUEUE_URL", "")
	if queueURL == "" {
		fmt.Fprintf(os.Stderr, "ERROR: QUEUE_URL environment variable is required\n")
		os.Exit(1)
	}

	region = getEnv("AWS_REGION", "us-east-1")
	numberOfMessages = getEnvInt("LOAD_TEST_MESSAGES", 1000)
	concurrency = getEnvInt("LOAD_TEST_CONCURRENCY", 10)
	invalidRatio = getEnvFloat("LOAD_TEST_INVALID_RATIO", 0.1)
	sendTimeout = time.Duration(getEnvInt("LOAD_TEST_TIMEOUT_SECONDS", 30)) * time.Second
	currentPattern = WorkloadPattern(getEnv("LOAD_TEST_PATTERN", "wave"))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

type WorkloadPattern string

const (
	PatternSteady WorkloadPattern = "steady"
	PatternBurst  WorkloadPattern = "burst"
	PatternWave   WorkloadPattern = "wave"
)

// Payload is the JSON body the listener's demo handlers expect. A fraction
// of sends are deliberately malformed to exercise the failure/redelivery
// path on the consumer side.
type Payload struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

type Result struct {
	Success  bool
	Duration time.Duration
	Index    int
	Error    string
	Valid    bool
}

type model struct {
	spinner        spinner.Model
	progress       progress.Model
	totalMessages  int
	sentMessages   int
	successfulMsgs int
	failedMsgs     int
	invalidSent    int
	recentLogs     []logEntry
	errors         []string
	latencies      []time.Duration
	minLatency     time.Duration
	maxLatency     time.Duration
	avgLatency     time.Duration
	throughput     float64
	startTime      time.Time
	currentTime    time.Time
	isComplete     bool
	width          int
	height         int
	pattern        WorkloadPattern
}

type logEntry struct {
	timestamp time.Time
	message   string
	success   bool
}

type tickMsg time.Time
type resultMsg Result
type completeMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Background(lipgloss.Color("235")).
			Padding(0, 1).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("111"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2).
			MarginBottom(1)
)

func initialModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		spinner:       s,
		progress:      progress.New(progress.WithDefaultGradient()),
		totalMessages: numberOfMessages,
		recentLogs:    make([]logEntry, 0, 20),
		errors:        make([]string, 0),
		latencies:     make([]time.Duration, 0),
		startTime:     time.Now(),
		pattern:       currentPattern,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 4
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tickMsg:
		m.currentTime = time.Time(msg)
		if !m.isComplete {
			return m, tickCmd()
		}
		return m, nil

	case resultMsg:
		m.sentMessages++
		m.latencies = append(m.latencies, msg.Duration)

		if len(m.latencies) == 1 {
			m.minLatency = msg.Duration
			m.maxLatency = msg.Duration
		} else {
			if msg.Duration < m.minLatency {
				m.minLatency = msg.Duration
			}
			if msg.Duration > m.maxLatency {
				m.maxLatency = msg.Duration
			}
		}

		var total time.Duration
		for _, d := range m.latencies {
			total += d
		}
		m.avgLatency = total / time.Duration(len(m.latencies))

		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			m.throughput = float64(m.successfulMsgs) / elapsed
		}

		if msg.Success {
			m.successfulMsgs++
			if !msg.Valid {
				m.invalidSent++
			}
			m.recentLogs = append([]logEntry{{
				timestamp: time.Now(),
				message:   fmt.Sprintf("Message %d sent (%v)", msg.Index, msg.Duration),
				success:   true,
			}}, m.recentLogs...)
		} else {
			m.failedMsgs++
			m.recentLogs = append([]logEntry{{
				timestamp: time.Now(),
				message:   fmt.Sprintf("Message %d failed: %s", msg.Index, msg.Error),
				success:   false,
			}}, m.recentLogs...)

			m.errors = append([]string{msg.Error}, m.errors...)
			if len(m.errors) > 5 {
				m.errors = m.errors[:5]
			}
		}

		if len(m.recentLogs) > 15 {
			m.recentLogs = m.recentLogs[:15]
		}

		return m, nil

	case completeMsg:
		m.isComplete = true
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("SQS Listener Load Generator") + "\n")

	progressPercent := float64(m.sentMessages) / float64(m.totalMessages)
	progressText := fmt.Sprintf("Progress: %d/%d messages (%.1f%%)",
		m.sentMessages, m.totalMessages, progressPercent*100)

	if !m.isComplete {
		progressText = m.spinner.View() + " " + progressText
	} else {
		progressText = "✓ " + progressText
	}

	b.WriteString(progressText + "\n")
	b.WriteString(m.progress.ViewAs(progressPercent) + "\n\n")

	columns := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderMetricsPanel(),
		m.renderLatencyPanel(),
	)
	b.WriteString(columns + "\n")
	b.WriteString(m.renderLogPanel() + "\n")

	if len(m.errors) > 0 {
		b.WriteString(m.renderErrorPanel() + "\n")
	}

	if m.isComplete {
		b.WriteString(successStyle.Render("\n✓ Test Complete! Press 'q' to quit"))
	} else {
		b.WriteString(labelStyle.Render("\nPress 'q' to quit"))
	}

	return b.String()
}

func (m model) renderMetricsPanel() string {
	elapsed := m.currentTime.Sub(m.startTime)
	if elapsed == 0 {
		elapsed = time.Since(m.startTime)
	}

	sent := m.sentMessages
	if sent == 0 {
		sent = 1
	}

	content := fmt.Sprintf(
		"%s %s\n"+
			"%s %s\n"+
			"%s %s\n"+
			"%s %s\n"+
			"%s %s\n\n"+
			"%s %s\n"+
			"%s %s msg/s",
		labelStyle.Render("Total Sent:"),
		valueStyle.Render(fmt.Sprintf("%d", m.sentMessages)),
		labelStyle.Render("Successful:"),
		successStyle.Render(fmt.Sprintf("%d", m.successfulMsgs)),
		labelStyle.Render("Failed:"),
		errorStyle.Render(fmt.Sprintf("%d", m.failedMsgs)),
		labelStyle.Render("Invalid Payloads:"),
		valueStyle.Render(fmt.Sprintf("%d", m.invalidSent)),
		labelStyle.Render("Pattern:"),
		valueStyle.Render(string(m.pattern)),
		labelStyle.Render("Elapsed:"),
		valueStyle.Render(elapsed.Round(time.Second).String()),
		labelStyle.Render("Throughput:"),
		valueStyle.Render(fmt.Sprintf("%.2f", m.throughput)),
	)

	return boxStyle.Width(40).Render(content)
}

func (m model) renderLatencyPanel() string {
	minStr, maxStr, avgStr := "N/A", "N/A", "N/A"
	if len(m.latencies) > 0 {
		minStr = m.minLatency.Round(time.Millisecond).String()
		maxStr = m.maxLatency.Round(time.Millisecond).String()
		avgStr = m.avgLatency.Round(time.Millisecond).String()
	}

	content := fmt.Sprintf(
		"%s\n"+
			"%s %s\n"+
			"%s %s\n"+
			"%s %s\n\n"+
			"%s\n%s",
		labelStyle.Render("Latency Statistics:"),
		labelStyle.Render("  Min:"),
		valueStyle.Render(minStr),
		labelStyle.Render("  Max:"),
		valueStyle.Render(maxStr),
		labelStyle.Render("  Avg:"),
		valueStyle.Render(avgStr),
		labelStyle.Render("Recent Latency Trend:"),
		m.renderLatencySparkline(),
	)

	return boxStyle.Width(40).Render(content)
}

func (m model) renderLatencySparkline() string {
	if len(m.latencies) == 0 {
		return labelStyle.Render("  No data yet...")
	}

	start := 0
	if len(m.latencies) > 30 {
		start = len(m.latencies) - 30
	}
	recent := m.latencies[start:]

	lo, hi := recent[0], recent[0]
	for _, l := range recent {
		if l < lo {
			lo = l
		}
		if l > hi {
			hi = l
		}
	}

	bars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	var sparkline strings.Builder
	sparkline.WriteString("  ")

	for _, l := range recent {
		normalized := 0.5
		if hi > lo {
			normalized = float64(l-lo) / float64(hi-lo)
		}
		idx := int(normalized * float64(len(bars)-1))
		if idx >= len(bars) {
			idx = len(bars) - 1
		}
		if idx < 0 {
			idx = 0
		}
		sparkline.WriteRune(bars[idx])
	}

	return valueStyle.Render(sparkline.String())
}

func (m model) renderLogPanel() string {
	var logs strings.Builder
	logs.WriteString(labelStyle.Render("Recent Activity:") + "\n\n")

	if len(m.recentLogs) == 0 {
		logs.WriteString(labelStyle.Render("  No activity yet..."))
	} else {
		for i, entry := range m.recentLogs {
			if i >= 10 {
				break
			}

			style, icon := successStyle, "✓"
			if !entry.success {
				style, icon = errorStyle, "✗"
			}

			logs.WriteString(fmt.Sprintf("  %s %s %s\n",
				labelStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message,
			))
		}
	}

	return boxStyle.Width(84).Render(logs.String())
}

func (m model) renderErrorPanel() string {
	var errorList strings.Builder
	errorList.WriteString(errorStyle.Render("⚠ Recent Errors:") + "\n\n")

	for i, err := range m.errors {
		if i >= 5 {
			break
		}
		errorList.WriteString(fmt.Sprintf("  %s %s\n", errorStyle.Render("•"), err))
	}

	return boxStyle.Width(84).Render(errorList.String())
}

func getMessageDelay(pattern WorkloadPattern, index int, total int, rng *rand.Rand) time.Duration {
	switch pattern {
	case PatternSteady:
		return time.Duration(10+rng.Intn(5)) * time.Millisecond

	case PatternBurst:
		progress := float64(index) / float64(total)
		if progress < 0.3 || (progress > 0.5 && progress < 0.6) || (progress > 0.8 && progress < 0.9) {
			return time.Duration(rng.Intn(5)) * time.Millisecond
		}
		return time.Duration(50+rng.Intn(100)) * time.Millisecond

	case PatternWave:
		progress := float64(index) / float64(total)
		sineValue := (1 + math.Sin(progress*6*math.Pi)) / 2
		baseDelay := 5 + int(sineValue*195)
		return time.Duration(baseDelay+rng.Intn(10)) * time.Millisecond

	default:
		return 10 * time.Millisecond
	}
}

var kinds = []string{"ingest", "report", "sync", "audit"}

var contents = []string{
	"nightly reconciliation", "inventory sync", "usage rollup",
	"export requested", "webhook replay", "cache warmup",
}

func createPayload(rng *rand.Rand, index int) Payload {
	return Payload{
		ID:      fmt.Sprintf("load-%06d-%s", index, xid.New().String()),
		Kind:    kinds[rng.Intn(len(kinds))],
		Content: contents[rng.Intn(len(contents))],
	}
}

func sendMessage(ctx context.Context, client *sqs.Client, rng *rand.Rand, index int) Result {
	valid := rng.Float64() >= invalidRatio

	var body string
	if valid {
		raw, err := json.Marshal(createPayload(rng, index))
		if err != nil {
			return Result{Success: false, Index: index, Error: fmt.Sprintf("JSON marshal error: %v", err)}
		}
		body = string(raw)
	} else {
		// deliberately broken JSON so the consumer exercises its failure path
		body = fmt.Sprintf("{broken-%06d", index)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	startTime := time.Now()
	_, err := client.SendMessage(sendCtx, &sqs.SendMessageInput{
		QueueUrl:    &queueURL,
		MessageBody: &body,
	})
	duration := time.Since(startTime)

	if err != nil {
		return Result{Success: false, Duration: duration, Index: index, Error: err.Error(), Valid: valid}
	}
	return Result{Success: true, Duration: duration, Index: index, Valid: valid}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Unable to load SDK config: %v\n", err)
		os.Exit(1)
	}

	client := sqs.NewFromConfig(cfg)

	p := tea.NewProgram(initialModel(), tea.WithAltScreen())

	resultChan := make(chan Result, numberOfMessages)

	go func() {
		jobs := make(chan int, numberOfMessages)
		results := make(chan Result, numberOfMessages)

		var wg sync.WaitGroup
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func(workerID int) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

				for {
					select {
					case index, ok := <-jobs:
						if !ok {
							return
						}

						time.Sleep(getMessageDelay(currentPattern, index, numberOfMessages, rng))
						results <- sendMessage(ctx, client, rng, index)
					case <-ctx.Done():
						return
					}
				}
			}(w)
		}

		go func() {
			for i := 1; i <= numberOfMessages; i++ {
				select {
				case jobs <- i:
				case <-ctx.Done():
					close(jobs)
					return
				}
			}
			close(jobs)
		}()

		go func() {
			wg.Wait()
			close(results)
		}()

		for result := range results {
			resultChan <- result
		}
		close(resultChan)
	}()

	go func() {
		for result := range resultChan {
			p.Send(resultMsg(result))
		}
		p.Send(completeMsg{})
	}()

	go func() {
		<-sigChan
		cancel()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}
