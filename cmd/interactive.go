package cmd

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/skylenet/aa-benchmark/config"
)

// selectProviders asks which providers to run. The result keeps launch order.
func selectProviders(enabled []string) ([]string, error) {
	var selected []string

	prompt := &survey.MultiSelect{
		Message: "Which providers should be benchmarked?",
		Options: config.AllProviders,
		Default: enabled,
	}

	if err := survey.AskOne(prompt, &selected, survey.WithValidator(survey.Required)); err != nil {
		return nil, fmt.Errorf("provider selection aborted: %w", err)
	}

	if len(selected) == 0 {
		return nil, errors.New("no providers selected")
	}

	return inLaunchOrder(selected), nil
}

func inLaunchOrder(selected []string) []string {
	chosen := make(map[string]bool, len(selected))
	for _, p := range selected {
		chosen[p] = true
	}

	ordered := make([]string, 0, len(selected))
	for _, p := range config.AllProviders {
		if chosen[p] {
			ordered = append(ordered, p)
		}
	}

	return ordered
}
