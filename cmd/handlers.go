package cmd

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-bicyclegan/config"
	"github.com/tsawler/go-bicyclegan/layers"
	"github.com/tsawler/go-bicyclegan/model"
	"github.com/tsawler/go-bicyclegan/vision/preprocessing"
)

var envNames = []string{
	"BGAN_DEBUG",
	"BGAN_H",
	"BGAN_W",
	"BGAN_C",
	"BGAN_CODE_LEN",
	"BGAN_BATCH_SIZE",
	"BGAN_E_LAYERS",
	"BGAN_E_KERNELS",
	"BGAN_E_NONLIN",
	"BGAN_G_LAYERS",
	"BGAN_G_KERNELS",
	"BGAN_G_NONLIN",
	"BGAN_E_TYPE",
	"BGAN_WHERE_ADD",
	"BGAN_COMBINE",
	"BGAN_SUMMARY_DIR",
	"BGAN_CKPT",
	"BGAN_SEED",
	"BGAN_PRECISION",
	"BGAN_FORMAT",
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func writeGraphTable(w io.Writer, g *layers.GraphSpec) {
	fmt.Fprintf(w, "%s: %d stages, %d parameters\n", g.Name, len(g.Layers), g.TotalParameters)

	var data [][]string
	for i, l := range g.Layers {
		var from []string
		for _, in := range l.Inputs {
			from = append(from, strconv.Itoa(int(in)))
		}
		params := ""
		if l.ParameterCount > 0 {
			params = strconv.FormatInt(l.ParameterCount, 10)
		}
		data = append(data, []string{strconv.Itoa(i), l.Name, l.Type.String(), fmt.Sprint(from), fmt.Sprint(l.OutputShape), params})
	}

	table := newTable(w, []string{"ID", "NAME", "TYPE", "FROM", "OUTPUT", "PARAMS"})
	table.AppendBulk(data)
	table.Render()
	fmt.Fprintln(w)
}

// SummaryHandler prints the stages of both graphs
func SummaryHandler(cmd *cobra.Command, args []string) error {
	m, err := newModel(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	out := cmd.OutOrStdout()
	writeGraphTable(out, m.Encoder())
	writeGraphTable(out, m.Generator())

	if show, _ := cmd.Flags().GetBool("params"); !show {
		return nil
	}

	var data [][]string
	for _, s := range m.ParameterStats() {
		data = append(data, []string{
			s.Graph, s.LayerName, s.ParamType, strconv.Itoa(s.Count),
			fmt.Sprintf("%.4f", s.Mean), fmt.Sprintf("%.4f", s.Std),
			fmt.Sprintf("%.4f", s.Min), fmt.Sprintf("%.4f", s.Max),
		})
	}
	table := newTable(out, []string{"GRAPH", "LAYER", "PARAM", "COUNT", "MEAN", "STD", "MIN", "MAX"})
	table.AppendBulk(data)
	table.Render()
	return nil
}

// GraphHandler writes graph.json and graph.txt
func GraphHandler(cmd *cobra.Command, args []string) error {
	m, err := newModel(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	paths, err := m.TestGraph()
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

// CheckpointHandler saves the freshly initialized parameters
func CheckpointHandler(cmd *cobra.Command, args []string) error {
	iteration, err := cmd.Flags().GetInt("iteration")
	if err != nil {
		return err
	}

	m, err := newModel(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	path, err := m.Checkpoint(iteration)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// TestHandler translates one image with the latest checkpoint
func TestHandler(cmd *cobra.Command, args []string) error {
	imagePath, err := cmd.Flags().GetString("image")
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	m, err := newModel(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	out, err := m.Test(cmd.Context(), imagePath)
	if err != nil {
		return err
	}
	if output == "" {
		return nil
	}

	img, err := preprocessing.ToImage(out, 0)
	if err != nil {
		return err
	}
	if err := preprocessing.SavePNG(output, img); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)
	return nil
}

// SampleHandler translates every image given as an argument
func SampleHandler(cmd *cobra.Command, args []string) error {
	m, err := newModel(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	out, err := m.Sample(cmd.Context(), args)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "generated %d images %v in %s\n", out.Shape[0], out.Shape[1:], m.Config().SummaryDir)
	return nil
}

// TrainHandler reports that training is not available
func TrainHandler(cmd *cobra.Command, args []string) error {
	m, err := newModel(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Train(cmd.Context()); err != nil {
		if errors.Is(err, model.ErrNotImplemented) {
			return fmt.Errorf("%w; the encoder and generator can be inspected with summary and graph", err)
		}
		return err
	}
	return nil
}

// EnvHandler lists the environment variables and their current values
func EnvHandler(cmd *cobra.Command, args []string) error {
	vars := config.AsMap()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)

	var data [][]string
	for _, name := range names {
		v := vars[name]
		data = append(data, []string{v.Name, v.Value, v.Description})
	}

	table := newTable(cmd.OutOrStdout(), []string{"NAME", "VALUE", "DESCRIPTION"})
	table.AppendBulk(data)
	table.Render()
	return nil
}
