package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/encoding/protowire"
)

// ONNX wire format, written directly with protowire. Only the subset
// needed to round-trip named float32 initializers and a few metadata
// properties is implemented.
//
// ModelProto field numbers.
const (
	modelIRVersion       = 1
	modelProducerName    = 2
	modelProducerVersion = 3
	modelVersion         = 5
	modelGraph           = 7
	modelOpsetImport     = 8
	modelMetadataProps   = 14
)

// GraphProto field numbers.
const (
	graphName        = 2
	graphInitializer = 5
)

// TensorProto field numbers.
const (
	tensorDims     = 1
	tensorDataType = 2
	tensorName     = 8
	tensorRawData  = 9
)

// OperatorSetIdProto field numbers.
const (
	opsetDomain  = 1
	opsetVersion = 2
)

// StringStringEntryProto field numbers.
const (
	entryKey   = 1
	entryValue = 2
)

const (
	onnxFloat     = 1 // TensorProto.DataType FLOAT
	irVersion     = 8
	opsetRevision = 13

	metaEpoch   = "training.epoch"
	metaBestAUC = "training.best_valid_auc"
	metaLR      = "training.learning_rate"
)

func appendTensor(b []byte, w WeightTensor) []byte {
	var t []byte
	for _, d := range w.Shape {
		t = protowire.AppendTag(t, tensorDims, protowire.VarintType)
		t = protowire.AppendVarint(t, uint64(d))
	}
	t = protowire.AppendTag(t, tensorDataType, protowire.VarintType)
	t = protowire.AppendVarint(t, onnxFloat)
	t = protowire.AppendTag(t, tensorName, protowire.BytesType)
	t = protowire.AppendString(t, w.Name)

	raw := make([]byte, 4*len(w.Data))
	for i, v := range w.Data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	t = protowire.AppendTag(t, tensorRawData, protowire.BytesType)
	t = protowire.AppendBytes(t, raw)

	b = protowire.AppendTag(b, graphInitializer, protowire.BytesType)
	return protowire.AppendBytes(b, t)
}

func appendMetadata(b []byte, key, value string) []byte {
	var e []byte
	e = protowire.AppendTag(e, entryKey, protowire.BytesType)
	e = protowire.AppendString(e, key)
	e = protowire.AppendTag(e, entryValue, protowire.BytesType)
	e = protowire.AppendString(e, value)
	b = protowire.AppendTag(b, modelMetadataProps, protowire.BytesType)
	return protowire.AppendBytes(b, e)
}

// encodeONNX serializes the checkpoint as an ONNX model whose graph
// carries every weight as a named initializer. Training state rides in
// the model's metadata properties.
func encodeONNX(c *Checkpoint) ([]byte, error) {
	var graph []byte
	graph = protowire.AppendTag(graph, graphName, protowire.BytesType)
	graph = protowire.AppendString(graph, "basset")
	for _, w := range c.Weights {
		graph = appendTensor(graph, w)
	}

	var opset []byte
	opset = protowire.AppendTag(opset, opsetDomain, protowire.BytesType)
	opset = protowire.AppendString(opset, "")
	opset = protowire.AppendTag(opset, opsetVersion, protowire.VarintType)
	opset = protowire.AppendVarint(opset, opsetRevision)

	var b []byte
	b = protowire.AppendTag(b, modelIRVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, irVersion)
	b = protowire.AppendTag(b, modelProducerName, protowire.BytesType)
	b = protowire.AppendString(b, "go-basset")
	b = protowire.AppendTag(b, modelProducerVersion, protowire.BytesType)
	b = protowire.AppendString(b, c.Metadata.Version)
	b = protowire.AppendTag(b, modelVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	b = protowire.AppendTag(b, modelGraph, protowire.BytesType)
	b = protowire.AppendBytes(b, graph)
	b = protowire.AppendTag(b, modelOpsetImport, protowire.BytesType)
	b = protowire.AppendBytes(b, opset)
	b = appendMetadata(b, metaEpoch, strconv.Itoa(c.TrainingState.Epoch))
	b = appendMetadata(b, metaBestAUC, strconv.FormatFloat(c.TrainingState.BestValidAUC, 'g', -1, 64))
	b = appendMetadata(b, metaLR, strconv.FormatFloat(c.TrainingState.LearningRate, 'g', -1, 64))
	return b, nil
}

// decodeONNX restores a checkpoint from an ONNX model produced by
// encodeONNX. Unknown fields are skipped, so models with node graphs
// or doc strings still load.
func decodeONNX(data []byte) (*Checkpoint, error) {
	c := &Checkpoint{}
	meta := map[string]string{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("malformed tag: %v", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == modelProducerVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed producer version")
			}
			c.Metadata.Version = v
			data = data[n:]
		case num == modelGraph && typ == protowire.BytesType:
			g, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed graph")
			}
			weights, err := decodeGraph(g)
			if err != nil {
				return nil, err
			}
			c.Weights = append(c.Weights, weights...)
			data = data[n:]
		case num == modelMetadataProps && typ == protowire.BytesType:
			e, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed metadata entry")
			}
			key, value, err := decodeMetadataEntry(e)
			if err != nil {
				return nil, err
			}
			meta[key] = value
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("malformed field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if v, ok := meta[metaEpoch]; ok {
		c.TrainingState.Epoch, _ = strconv.Atoi(v)
	}
	if v, ok := meta[metaBestAUC]; ok {
		c.TrainingState.BestValidAUC, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := meta[metaLR]; ok {
		c.TrainingState.LearningRate, _ = strconv.ParseFloat(v, 64)
	}
	return c, nil
}

func decodeGraph(data []byte) ([]WeightTensor, error) {
	var weights []WeightTensor
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("malformed graph tag")
		}
		data = data[n:]
		if num == graphInitializer && typ == protowire.BytesType {
			t, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("malformed initializer")
			}
			w, err := decodeTensor(t)
			if err != nil {
				return nil, err
			}
			weights = append(weights, w)
			data = data[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("malformed graph field %d", num)
		}
		data = data[n:]
	}
	return weights, nil
}

func decodeTensor(data []byte) (WeightTensor, error) {
	var w WeightTensor
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return w, fmt.Errorf("malformed tensor tag")
		}
		data = data[n:]
		switch {
		case num == tensorDims && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return w, fmt.Errorf("malformed dimension")
			}
			w.Shape = append(w.Shape, int(v))
			data = data[n:]
		case num == tensorDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return w, fmt.Errorf("malformed data type")
			}
			if v != onnxFloat {
				return w, fmt.Errorf("tensor %s has unsupported data type %d", w.Name, v)
			}
			data = data[n:]
		case num == tensorName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return w, fmt.Errorf("malformed tensor name")
			}
			w.Name = v
			data = data[n:]
		case num == tensorRawData && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return w, fmt.Errorf("malformed raw data")
			}
			if len(raw)%4 != 0 {
				return w, fmt.Errorf("tensor %s raw data is not float32-aligned", w.Name)
			}
			w.Data = make([]float32, len(raw)/4)
			for i := range w.Data {
				w.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return w, fmt.Errorf("malformed tensor field %d", num)
			}
			data = data[n:]
		}
	}
	return w, nil
}

func decodeMetadataEntry(data []byte) (key, value string, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", fmt.Errorf("malformed metadata tag")
		}
		data = data[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", "", fmt.Errorf("malformed metadata field")
			}
			data = data[n:]
			continue
		}
		v, n := protowire.ConsumeString(data)
		if n < 0 {
			return "", "", fmt.Errorf("malformed metadata value")
		}
		switch num {
		case entryKey:
			key = v
		case entryValue:
			value = v
		}
		data = data[n:]
	}
	return key, value, nil
}
