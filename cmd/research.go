package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/model"
	"github.com/open-justice/intervention-graph/internal/research"
)

var (
	researchQuery   string
	researchDepth   int
	researchCeiling string
	researchRun     bool

	feedbackHelpful     bool
	feedbackCorrections string
	feedbackQuestions   []string
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Create and drive research sessions",
}

var researchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a research session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ceiling, err := model.ParseConsentLevel(researchCeiling)
		if err != nil {
			return eris.Wrap(err, "parse ceiling")
		}
		if cfg.Research.MaxDepth > 0 && researchDepth > cfg.Research.MaxDepth {
			return eris.Errorf("depth %d exceeds the configured maximum %d", researchDepth, cfg.Research.MaxDepth)
		}

		sess, err := env.Engine.Create(ctx, researchQuery, researchDepth, ceiling)
		if err != nil {
			return eris.Wrap(err, "create session")
		}
		zap.L().Info("session created", zap.String("session_id", sess.ID))

		if researchRun {
			sess, err = env.Engine.Run(ctx, sess.ID)
			if err != nil {
				return eris.Wrap(err, "run session")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

var researchRunCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Execute a pending session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Engine.Run(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "run session")
		}

		zap.L().Info("session finished",
			zap.String("session_id", sess.ID),
			zap.String("status", string(sess.Status)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	},
}

var researchStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session with its findings and tool logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sess, err := env.Sessions.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get session")
		}
		findings, err := env.Sessions.ListFindings(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list findings")
		}
		logs, err := env.Sessions.ListToolLogs(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "list tool logs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"session":   sess,
			"findings":  findings,
			"tool_logs": logs,
		})
	},
}

var researchFeedbackCmd = &cobra.Command{
	Use:   "feedback <session-id>",
	Short: "Record reviewer feedback on a finished session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initGraph(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		fb := research.Feedback{
			Helpful:             feedbackHelpful,
			Corrections:         feedbackCorrections,
			AdditionalQuestions: feedbackQuestions,
		}
		if err := env.Engine.SubmitFeedback(ctx, args[0], fb); err != nil {
			return eris.Wrap(err, "submit feedback")
		}

		zap.L().Info("feedback recorded", zap.String("session_id", args[0]))
		return nil
	},
}

func init() {
	researchCreateCmd.Flags().StringVar(&researchQuery, "query", "", "research question (required)")
	researchCreateCmd.Flags().IntVar(&researchDepth, "depth", 1, "exploration depth")
	researchCreateCmd.Flags().StringVar(&researchCeiling, "ceiling", string(model.ConsentPublicCommons), "max consent level the session may read")
	researchCreateCmd.Flags().BoolVar(&researchRun, "run", false, "execute immediately after creating")
	_ = researchCreateCmd.MarkFlagRequired("query")

	researchFeedbackCmd.Flags().BoolVar(&feedbackHelpful, "helpful", false, "the results were useful")
	researchFeedbackCmd.Flags().StringVar(&feedbackCorrections, "corrections", "", "free-text corrections")
	researchFeedbackCmd.Flags().StringSliceVar(&feedbackQuestions, "questions", nil, "follow-up questions")

	researchCmd.AddCommand(researchCreateCmd, researchRunCmd, researchStatusCmd, researchFeedbackCmd)
	rootCmd.AddCommand(researchCmd)
}
