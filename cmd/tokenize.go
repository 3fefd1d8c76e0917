package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qwenrun/qwenrun/model"
)

func TokenizeHandler(cmd *cobra.Command, args []string) error {
	pieces, err := cmd.Flags().GetBool("pieces")
	if err != nil {
		return err
	}

	tp, err := model.NewTextProcessor(args[0])
	if err != nil {
		return err
	}

	text := strings.Join(args[1:], " ")
	ids, err := tp.Encode(text, true)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if pieces {
		table := newTable(out)
		table.SetHeader([]string{"  ID", "PIECE"})
		for _, id := range ids {
			piece, err := tp.Decode([]int32{id})
			if err != nil {
				return err
			}
			table.Append([]string{"  " + strconv.Itoa(int(id)), strconv.Quote(piece)})
		}
		table.Render()
	} else {
		s := make([]string, len(ids))
		for i, id := range ids {
			s[i] = strconv.Itoa(int(id))
		}
		fmt.Fprintln(out, strings.Join(s, " "))
	}

	decoded, err := tp.Decode(ids)
	if err != nil {
		return err
	}

	if decoded != text {
		slog.Warn("decoded text differs from input", "input", text, "decoded", decoded)
	}

	return nil
}
