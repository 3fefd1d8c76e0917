package cmd

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/qwenrun/qwenrun/envconfig"
	"github.com/qwenrun/qwenrun/format"
	"github.com/qwenrun/qwenrun/fs/gguf"
	"github.com/qwenrun/qwenrun/model/models/qwen3"
	"github.com/qwenrun/qwenrun/types/errtypes"
)

func ShowHandler(cmd *cobra.Command, args []string) error {
	showTensors, err := cmd.Flags().GetBool("tensors")
	if err != nil {
		return err
	}

	showEnv, err := cmd.Flags().GetBool("env")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if showEnv {
		printEnv(out)
		if len(args) == 0 {
			return nil
		}
		fmt.Fprintln(out)
	}

	if len(args) == 0 {
		return errors.New("no model provided")
	}

	f, err := gguf.Open(args[0])
	if err != nil {
		return &errtypes.LoadError{Reason: "invalid model file", Err: err}
	}
	defer f.Close()

	if err := printModel(out, f); err != nil {
		return err
	}

	if showTensors {
		fmt.Fprintln(out)
		printTensors(out, f)
	}

	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

func printModel(w io.Writer, f *gguf.File) error {
	kv := f.Config()
	arch := kv.Architecture()
	if arch != "qwen3" {
		return &errtypes.LoadError{
			Tensor: "general.architecture",
			Reason: fmt.Sprintf("unsupported model architecture %q", arch),
		}
	}

	c, err := qwen3.ConfigFromGGUF(kv, f, 0)
	if err != nil {
		return err
	}

	var params uint64
	types := make(map[string]int)
	for _, ti := range f.TensorInfos() {
		params += uint64(ti.NumValues())
		types[ti.Type.String()]++
	}

	// the most common tensor type stands for the quantization
	var quantization string
	for t, n := range types {
		if n > types[quantization] || (n == types[quantization] && t < quantization) {
			quantization = t
		}
	}

	_, tied := f.Shape("output.weight")

	indent := "  "
	table := newTable(w)
	table.AppendBulk([][]string{
		{indent, "architecture", arch},
		{indent, "parameters", format.HumanNumber(params)},
		{indent, "quantization", quantization},
		{indent, "context length", strconv.Itoa(c.SeqLen)},
		{indent, "embedding length", strconv.Itoa(c.Dim)},
		{indent, "feed forward length", strconv.Itoa(c.HiddenDim)},
		{indent, "layers", strconv.Itoa(c.NumLayers)},
		{indent, "heads", fmt.Sprintf("%d (%d key/value)", c.NumHeads, c.NumKVHeads)},
		{indent, "head dimension", strconv.Itoa(c.HeadDim)},
		{indent, "vocabulary size", strconv.Itoa(c.VocabSize)},
		{indent, "rope base", strconv.FormatFloat(float64(c.RopeBase), 'g', -1, 32)},
		{indent, "tied embeddings", strconv.FormatBool(!tied)},
	})

	fmt.Fprintln(w, "  Model")
	table.Render()
	return nil
}

func printTensors(w io.Writer, f *gguf.File) {
	table := newTable(w)
	table.SetHeader([]string{"  NAME", "TYPE", "SHAPE", "SIZE"})
	for _, ti := range f.TensorInfos() {
		shape := make([]string, len(ti.Shape))
		for i, d := range ti.Shape {
			shape[i] = strconv.FormatUint(d, 10)
		}

		table.Append([]string{
			"  " + ti.Name,
			ti.Type.String(),
			"[" + strings.Join(shape, " ") + "]",
			format.HumanBytes(ti.NumBytes()),
		})
	}

	table.Render()
}

func printEnv(w io.Writer) {
	vars := envconfig.AsMap()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	table := newTable(w)
	table.SetHeader([]string{"  NAME", "VALUE", "DESCRIPTION"})
	for _, k := range keys {
		v := vars[k]
		table.Append([]string{"  " + v.Name, fmt.Sprint(v.Value), v.Description})
	}

	table.Render()
}
