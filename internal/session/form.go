package session

import (
	"strings"

	"github.com/charmbracelet/huh"
)

const defaultFormWidth = 72

// formValues holds the form's bound fields until the session resolves.
type formValues struct {
	selected    []string
	text        string
	imagesRaw   string
	contextsRaw string
}

// buildFeedbackForm constructs the huh form for one feedback round. The
// quick-select group is present only when the caller supplied options.
func buildFeedbackForm(options []string, values *formValues, width int) *huh.Form {
	if values == nil {
		values = &formValues{}
	}
	if width <= 0 {
		width = defaultFormWidth
	}

	fields := make([]huh.Field, 0, 4)
	if choices := dedupeOptions(options); len(choices) > 0 {
		fields = append(fields, huh.NewMultiSelect[string]().
			Title("选择方案").
			Options(huh.NewOptions(choices...)...).
			Value(&values.selected))
	}

	fields = append(fields,
		huh.NewText().
			Title("反馈内容").
			Placeholder("在此输入反馈...").
			Lines(5).
			Value(&values.text),
		huh.NewText().
			Title("图片路径（每行一个）").
			Placeholder("可留空").
			Lines(2).
			Value(&values.imagesRaw),
		huh.NewText().
			Title("上下文文件（每行一个）").
			Placeholder("可留空").
			Lines(2).
			Value(&values.contextsRaw),
	)

	return huh.NewForm(huh.NewGroup(fields...)).
		WithShowHelp(false).
		WithShowErrors(false).
		WithWidth(width)
}

func dedupeOptions(options []string) []string {
	dedup := make(map[string]struct{}, len(options))
	ordered := make([]string, 0, len(options))
	for _, option := range options {
		trimmed := strings.TrimSpace(option)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, exists := dedup[key]; exists {
			continue
		}
		dedup[key] = struct{}{}
		ordered = append(ordered, trimmed)
	}
	return ordered
}

// parsePathList splits a textarea's raw value into one path per line,
// dropping blanks.
func parsePathList(raw string) []string {
	var paths []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		paths = append(paths, trimmed)
	}
	return paths
}
