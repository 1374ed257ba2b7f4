package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"munportal/internal/api"
	"munportal/internal/registration"
)

var (
	answersPath  string
	registerKind string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "submit a delegate registration from an answers file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		f, err := os.Open(answersPath)
		if err != nil {
			return err
		}
		answers, err := registration.ReadAnswers(f)
		f.Close()
		if err != nil {
			return err
		}

		kind := answers.Kind
		if registerKind != "" {
			kind = api.Kind(registerKind)
		}
		if kind == "" {
			kind = api.KindPriority
		}
		if _, err := api.ParseKind(string(kind)); err != nil {
			return err
		}

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		navigated := make(chan struct{})
		form, err := a.NewForm(kind, func() { close(navigated) })
		if err != nil {
			return err
		}
		defer form.Close()

		if err := answers.Fill(form); err != nil {
			return err
		}

		for form.Step() != registration.StepReview {
			step := form.Step()
			if err := form.Next(ctx); err != nil {
				return stepFailure(step, err)
			}
			fmt.Fprintf(out, "%s: ok\n", step)
		}

		conf, err := form.Submit(ctx)
		if err != nil {
			return stepFailure(registration.StepReview, err)
		}
		fmt.Fprintf(out, "%s (id %s)\n", conf.Message, conf.ID)
		fmt.Fprintf(out, "returning home in %s\n", conf.RedirectIn)

		select {
		case <-navigated:
		case <-ctx.Done():
		}
		return nil
	},
}

func stepFailure(step registration.Step, err error) error {
	var verr *registration.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("%s is incomplete: %w", verr.Step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

func init() {
	registerCmd.Flags().StringVarP(&answersPath, "answers", "a", "", "YAML answers file")
	registerCmd.Flags().StringVar(&registerKind, "kind", "", "priority or first-round (defaults to the answers file)")
	_ = registerCmd.MarkFlagRequired("answers")

	rootCmd.AddCommand(registerCmd)
}
