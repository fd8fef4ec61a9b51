package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"catalyst-catcher/internal/app"
)

var (
	simulateTicker    string
	simulateDirection string
	simulatePrice     float64
	simulateChange    float64
	simulateVolume    float64
	simulateHeadline  string
	simulateMode      string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-signal",
	Short: "Dispatch a synthetic signal through the configured mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than 0")
		}

		opts := app.SimulateOptions{
			Ticker:    simulateTicker,
			Direction: strings.ToUpper(simulateDirection),
			Price:     decimal.NewFromFloat(simulatePrice),
			ChangePct: decimal.NewFromFloat(simulateChange),
			Volume:    decimal.NewFromFloat(simulateVolume),
			Headline:  simulateHeadline,
			Mode:      simulateMode,
		}
		id, err := getApp().SimulateSignal(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateTicker, "ticker", "", "Ticker symbol")
	simulateCmd.Flags().StringVar(&simulateDirection, "direction", "UP", "UP or DOWN")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Current price")
	simulateCmd.Flags().Float64Var(&simulateChange, "change", 0, "Percent change versus base")
	simulateCmd.Flags().Float64Var(&simulateVolume, "volume-ratio", 1, "Volume over trailing average")
	simulateCmd.Flags().StringVar(&simulateHeadline, "headline", "", "Headline to attach")
	simulateCmd.Flags().StringVar(&simulateMode, "mode", "", "Override dispatch.mode (live or paper)")
	_ = simulateCmd.MarkFlagRequired("ticker")
}
