package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/kjstillabower/weather-advice-service/internal/advice"
)

type adviseOutput struct {
	advice.Bundle
	Rules []string `json:"rules,omitempty"`
}

func newAdviseCmd() *cobra.Command {
	var (
		temperature, humidity, windSpeed float64
		description                      string
		explain                          bool
	)
	cmd := &cobra.Command{
		Use:   "advise",
		Short: "Derive advice for a reading without calling the provider",
		Long: `Run the advice engine on a reading given as flags and print the bundle as JSON.
Omitted numeric flags are treated as unknown, not as zero.`,
		Example: `  weather-advice-service advise --temperature 38 --humidity 85 --description "Sunny"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reading := advice.Reading{Description: description}
			flags := cmd.Flags()
			if flags.Changed("temperature") {
				reading.Temperature = advice.Float(temperature)
			}
			if flags.Changed("humidity") {
				reading.Humidity = advice.Float(humidity)
			}
			if flags.Changed("wind-speed") {
				reading.WindSpeed = advice.Float(windSpeed)
			}

			bundle, fired := advice.Explain(reading)
			out := adviseOutput{Bundle: bundle}
			if explain {
				out.Rules = fired
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "temperature in degrees Celsius")
	cmd.Flags().Float64Var(&humidity, "humidity", 0, "relative humidity in percent")
	cmd.Flags().Float64Var(&windSpeed, "wind-speed", 0, "wind speed in km/h")
	cmd.Flags().StringVar(&description, "description", "", "free-text condition, e.g. \"Light rain\"")
	cmd.Flags().BoolVar(&explain, "explain", false, "include the ids of the rules that fired")
	return cmd
}
