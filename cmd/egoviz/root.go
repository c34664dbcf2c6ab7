package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LightwheelAI/LW-Egosuite-DevKit/container"
	"github.com/LightwheelAI/LW-Egosuite-DevKit/logger"
	"github.com/LightwheelAI/LW-Egosuite-DevKit/pipeline"
	"github.com/LightwheelAI/LW-Egosuite-DevKit/viz"
)

const envPrefix = "EGOVIZ"

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "egoviz",
		Short:         "Egosuite log visualization toolkit",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("config", "", "config file (default egoviz.yaml in the working directory)")

	root.AddCommand(convertCmd())
	return root
}

// initConfig loads egoviz.yaml (if present) and EGOVIZ_* environment
// variables, then binds them under the command's flags.
func initConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName("egoviz")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <source>...",
		Short: "Convert log containers into their visualization form",
		Long: `Convert reads each source container, rewrites recognized sensor
channels into their visualization schemas, passes unrecognized channels
through unchanged, and writes the result next to the source under
output/<stem>_viz<ext>.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runConvert,
	}
	cmd.Flags().StringP("out-dir", "o", "", "output directory (default <source dir>/output)")
	cmd.Flags().String("compression", "zstd", "chunk compression: none, lz4, zstd")
	cmd.Flags().Int("chunk-size", container.DefaultChunkSize, "uncompressed chunk size in bytes")
	cmd.Flags().IntP("jobs", "j", 1, "number of files converted concurrently")
	cmd.Flags().StringSlice("drop", nil, "schema names to drop instead of passing through")
	return cmd
}

func runConvert(cmd *cobra.Command, args []string) error {
	v, err := initConfig(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	log := logger.New(v.GetBool("verbose"))
	defer log.Sync()

	compression, err := parseCompression(v.GetString("compression"))
	if err != nil {
		log.Error(err)
		return err
	}

	var drop []viz.Identity
	for _, name := range v.GetStringSlice("drop") {
		drop = append(drop, viz.LayoutIdentity(name))
	}
	registry, err := viz.NewRegistry(viz.DefaultBindings(), drop)
	if err != nil {
		log.Error(err)
		return err
	}

	opts := pipeline.Options{
		OutputDir:   v.GetString("out-dir"),
		Compression: compression,
		ChunkSize:   v.GetInt("chunk-size"),
		Registry:    registry,
		Log:         log,
	}

	results := pipeline.ConvertAll(cmd.Context(), args, opts, v.GetInt("jobs"))
	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
			log.Errorw("conversion failed", logger.FieldSource, result.Source, logger.FieldError, result.Err)
		}
	}
	if failed > 0 {
		return errors.Newf("%d of %d conversions failed", failed, len(results))
	}
	return nil
}

func parseCompression(name string) (container.Compression, error) {
	switch container.Compression(name) {
	case container.CompressionNone, "":
		return container.CompressionNone, nil
	case container.CompressionLZ4:
		return container.CompressionLZ4, nil
	case container.CompressionZstd:
		return container.CompressionZstd, nil
	}
	return "", errors.Newf("unknown compression %q", name)
}
