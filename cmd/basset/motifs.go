package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-basset/basset"
	"github.com/tsawler/go-basset/checkpoints"
	"github.com/tsawler/go-basset/dataset"
	"github.com/tsawler/go-basset/tensor"
)

// motifReport is the JSON layout for one filter's activation profile.
type motifReport struct {
	Filter        int         `json:"filter"`
	MaxActivation float32     `json:"max_activation"`
	Counts        [][]float32 `json:"counts"` // [kernelHeight][bases]
}

func newMotifsCmd() *cobra.Command {
	var (
		dataPath string
		ckptPath string
		format   string
		outPath  string
		n        int
	)
	cmd := &cobra.Command{
		Use:   "motifs",
		Short: "Profile first-layer filter activations for motif discovery",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := dataset.Open(dataPath, dataset.Valid)
			if err != nil {
				return err
			}
			defer data.Close()

			model, err := basset.New()
			if err != nil {
				return err
			}
			f, err := checkpointFormat(format)
			if err != nil {
				return err
			}
			saver, err := checkpoints.NewSaver(f)
			if err != nil {
				return err
			}
			ckpt, err := saver.Load(ckptPath)
			if err != nil {
				return err
			}
			if err := ckpt.Apply(model); err != nil {
				return err
			}

			if n > data.Len() {
				n = data.Len()
			}
			batch, err := stackSequences(data, n)
			if err != nil {
				return err
			}
			logger.Infow("analyzing filter activations", "sequences", n, "filters", model.NumFilters())

			maxActs, err := model.KernelMaxActivations(batch)
			if err != nil {
				return err
			}
			counts, err := model.ActivationCounts(batch, maxActs)
			if err != nil {
				return err
			}

			reports, err := buildReports(model, maxActs, counts)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(reports, "", "  ")
			if err != nil {
				return errors.Wrap(err, "encoding motif report")
			}
			if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
				return errors.Wrapf(err, "writing %s", outPath)
			}
			logger.Infow("motif report saved", "path", outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dataPath, "data", "d", "", "path to the Basset HDF5 file")
	cmd.Flags().StringVarP(&ckptPath, "checkpoint", "c", "", "trained checkpoint")
	cmd.Flags().StringVar(&format, "format", "json", "checkpoint format: json or onnx")
	cmd.Flags().StringVarP(&outPath, "out", "o", "motifs.json", "motif report output path")
	cmd.Flags().IntVar(&n, "sequences", 256, "number of validation sequences to analyze")
	cmd.MarkFlagRequired("data")
	cmd.MarkFlagRequired("checkpoint")
	return cmd
}

// stackSequences reads the first n sequences into one [n 1 seqLen 4]
// batch.
func stackSequences(data *dataset.BassetDataset, n int) (*tensor.Tensor, error) {
	batch, err := tensor.Zeros([]int{n, 1, data.SeqLen(), dataset.AlphabetSize})
	if err != nil {
		return nil, err
	}
	bd := batch.Data.([]float32)
	stride := data.SeqLen() * dataset.AlphabetSize
	for i := 0; i < n; i++ {
		seq, _, err := data.Get(i)
		if err != nil {
			return nil, err
		}
		sd, err := seq.Float32Data()
		if err != nil {
			return nil, err
		}
		copy(bd[i*stride:(i+1)*stride], sd)
	}
	return batch, nil
}

func buildReports(model *basset.Model, maxActs, counts *tensor.Tensor) ([]motifReport, error) {
	maxData, err := maxActs.Float32Data()
	if err != nil {
		return nil, err
	}
	reports := make([]motifReport, model.NumFilters())
	for f := range reports {
		profile := make([][]float32, model.FilterHeight())
		for row := range profile {
			profile[row] = make([]float32, dataset.AlphabetSize)
			for base := range profile[row] {
				v, err := counts.At(f, row, base)
				if err != nil {
					return nil, err
				}
				profile[row][base] = v
			}
		}
		reports[f] = motifReport{Filter: f, MaxActivation: maxData[f], Counts: profile}
	}
	return reports, nil
}
