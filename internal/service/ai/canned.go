package ai

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/zhouzirui/nova/internal/analysis/mood"
	"github.com/zhouzirui/nova/internal/model/catalog"
	"github.com/zhouzirui/nova/internal/model/task"
)

// FailTrigger in a query makes the canned answerer fail, which exercises the
// error path end to end.
const FailTrigger = "#fail"

// ErrUpstreamTimeout is the failure produced for FailTrigger.
var ErrUpstreamTimeout = errors.New("upstream timeout")

// Canned answers without a model. It is used when no Ark credentials are
// configured.
type Canned struct {
	services catalog.Store
	delay    time.Duration
}

// NewCanned returns a canned answerer pausing delay between progress steps.
func NewCanned(services catalog.Store, delay time.Duration) *Canned {
	return &Canned{services: services, delay: delay}
}

// Answer reports a few progress steps and returns a templated answer.
func (c *Canned) Answer(ctx context.Context, q task.Question, progress func(status string)) (string, error) {
	for _, step := range stepsFor(q) {
		progress(step)
		if err := c.wait(ctx); err != nil {
			return "", err
		}
	}
	if strings.Contains(strings.ToLower(q.Query), FailTrigger) {
		return "", ErrUpstreamTimeout
	}

	label := q.Service
	if svc, ok := c.services.FindByID(q.Service); ok {
		label = svc.Label
	}

	var b strings.Builder
	switch mood.Analyze(q.Query).Mood {
	case mood.Frustrated:
		b.WriteString("I'm sorry for the trouble, let's get this fixed.\n\n")
	case mood.Urgent:
		b.WriteString("Here is the quickest way forward.\n\n")
	}
	fmt.Fprintf(&b, "**%s** here. ", label)
	switch {
	case q.FilePath != "":
		fmt.Fprintf(&b, "I received your file `%s`. ", path.Base(q.FilePath))
		if q.Query == "" {
			b.WriteString("Tell me what you would like to know about it.")
		} else {
			fmt.Fprintf(&b, "About your question, %q:\n\n", q.Query)
			b.WriteString(stepsAnswer(q.Service))
		}
	default:
		fmt.Fprintf(&b, "You asked: %q\n\n", q.Query)
		b.WriteString(stepsAnswer(q.Service))
	}
	if len(q.History) > 0 {
		fmt.Fprintf(&b, "\n\n_This follows up on %d earlier question(s)._", len(q.History))
	}
	if q.Service == "qa" || q.Service == "aftersales" {
		b.WriteString("\n\n<details><summary>Sources</summary>\n\n")
		b.WriteString("- [Help center](https://help.example.com)\n")
		fmt.Fprintf(&b, "- [%s guide](https://help.example.com/%s)\n", label, q.Service)
		b.WriteString("\n</details>")
	}
	return b.String(), nil
}

func (c *Canned) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func stepsFor(q task.Question) []string {
	steps := []string{"Understanding your question"}
	if q.FilePath != "" {
		steps = append(steps, "Reading the attached file")
	}
	switch q.Service {
	case "sales":
		steps = append(steps, "Checking current plans")
	case "aftersales":
		steps = append(steps, "Looking up order records")
	case "img":
		steps = append(steps, "Analysing the image")
	default:
		steps = append(steps, "Searching the knowledge base")
	}
	return append(steps, StatusComposing)
}

func stepsAnswer(service string) string {
	switch service {
	case "sales":
		return "1. Compare the plans on the pricing page.\n2. Pick the plan that covers your team size.\n3. Reply here if you need a quote."
	case "aftersales":
		return "1. Keep your order number at hand.\n2. Open **Orders** and choose the item.\n3. Select **Request service** and follow the steps."
	case "img":
		return "Upload a clear image or document and I will describe what it shows."
	case "reception":
		return "I can route you to Sales Support, Product Q&A, Image Analysis or After-sales Service."
	default:
		return "1. Open **Settings**.\n2. Choose the section your question is about.\n3. Follow the on-screen instructions."
	}
}
