package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zecchin-leonardo/archeo-extract/internal/thesaurus"
)

var thesaurusShapefile string

func loadThesaurus() (*thesaurus.Thesaurus, error) {
	path := thesaurusShapefile
	if path == "" {
		path = cfg.Thesaurus.ShapefilePath
	}
	if path == "" {
		return nil, eris.New("thesaurus shapefile path not configured (thesaurus.shapefile_path)")
	}

	th, err := thesaurus.LoadShapefile(path)
	if err != nil {
		return nil, err
	}
	zap.L().Info("thesaurus loaded",
		zap.String("shapefile", path),
		zap.Int("comuni", th.Len()),
	)
	return th, nil
}

var thesaurusCmd = &cobra.Command{
	Use:   "thesaurus",
	Short: "Query the ISTAT comuni thesaurus",
}

var thesaurusLookupCmd = &cobra.Command{
	Use:   "lookup <name>",
	Short: "Resolve a comune name to its canonical registry entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		th, err := loadThesaurus()
		if err != nil {
			return err
		}

		c, ok := th.Lookup(args[0])
		if !ok {
			return eris.Errorf("comune %q not in registry", args[0])
		}
		fmt.Printf("%s (%s)  centroid %.5f, %.5f\n", c.Name, c.Province, c.Centroid.X(), c.Centroid.Y())
		return nil
	},
}

var thesaurusMatchCmd = &cobra.Command{
	Use:   "match [text]",
	Short: "List comuni mentioned in the given text (or stdin)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		th, err := loadThesaurus()
		if err != nil {
			return err
		}

		var text string
		if len(args) == 1 {
			text = args[0]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
			text = string(data)
		}

		matches := th.Match(text)
		if len(matches) == 0 {
			fmt.Println("(no comuni mentioned)")
			return nil
		}
		fmt.Println(strings.Join(matches, "\n"))
		return nil
	},
}

func init() {
	thesaurusCmd.PersistentFlags().StringVar(&thesaurusShapefile, "shapefile", "", "ISTAT comuni shapefile (default from config)")
	thesaurusCmd.AddCommand(thesaurusLookupCmd)
	thesaurusCmd.AddCommand(thesaurusMatchCmd)
	rootCmd.AddCommand(thesaurusCmd)
}
