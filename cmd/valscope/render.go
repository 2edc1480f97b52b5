package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valscope/valscope/internal/cli/config"
	"github.com/valscope/valscope/internal/debug"
	"github.com/valscope/valscope/internal/layout"
	"github.com/valscope/valscope/internal/render"
)

var (
	renderTarget    string
	renderFunction  string
	renderCondition string
	renderSteps     int
	renderExpr      string
	renderDepth     int
	renderTag       string
	renderNoColor   bool
	renderVerbose   bool
)

func init() {
	renderCmd.Flags().StringVar(&renderTarget, "target", "", "Path to the target executable")
	renderCmd.Flags().StringVar(&renderFunction, "function", "", "Runtime name of the function to break in")
	renderCmd.Flags().StringVar(&renderCondition, "condition", "", "Breakpoint condition")
	renderCmd.Flags().IntVar(&renderSteps, "steps", 0, "Source lines to step after the breakpoint hits")
	renderCmd.Flags().StringVar(&renderExpr, "expr", "", "Expression or 0x address literal to render")
	renderCmd.Flags().IntVar(&renderDepth, "depth", 0, "Depth budget override")
	renderCmd.Flags().StringVar(&renderTag, "tag", "", "Force a layout tag instead of header dispatch")
	renderCmd.Flags().BoolVar(&renderNoColor, "no-color", false, "Disable colored output")
	renderCmd.Flags().BoolVar(&renderVerbose, "verbose", false, "Log session progress")
	renderCmd.MarkFlagRequired("target")
	renderCmd.MarkFlagRequired("expr")
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Run a target to a breakpoint and render a value",
	Long: `Launch the target under a headless Delve backend, set a conditional
breakpoint on a function's runtime name, continue to it, step a fixed number
of source lines, and render the tagged value an expression denotes.`,
	Example: `  valscope render --target ./build/runtime \
    --function runtime.evalExpr --condition 'depth > 2' \
    --steps 3 --expr '*ast'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if renderNoColor {
			color.NoColor = true
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		registry, err := layout.Load(cfg.Layouts)
		if err != nil {
			return fmt.Errorf("failed to load layouts: %w", err)
		}

		logger := zap.NewNop()
		if renderVerbose {
			logger, err = zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Sync()
		}

		backend := debug.NewDelveClient(logger)
		if err := backend.Launch(cfg.Delve.Path, renderTarget); err != nil {
			return err
		}
		defer backend.Close()

		req := debug.InspectRequest{
			Function:  renderFunction,
			Condition: renderCondition,
			Steps:     renderSteps,
			Expr:      renderExpr,
			Depth:     renderDepth,
		}
		if req.Depth == 0 {
			req.Depth = cfg.Render.DepthBudget
		}
		if renderTag != "" {
			tag, ok := debug.ParseAddress(renderTag)
			if !ok {
				return fmt.Errorf("invalid tag %q", renderTag)
			}
			req.Tag = layout.TypeTag(tag)
		}

		opts := render.Options{Colorize: !renderNoColor}
		session := debug.NewSession(backend, registry, opts, logger)

		out, err := session.Inspect(req)
		if err != nil {
			return err
		}

		fmt.Println(out)
		return nil
	},
}
