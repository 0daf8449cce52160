package checkpoints

import (
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the binary layout.
//
//	message Checkpoint { repeated Entry state_dict = 1; Metadata metadata = 2; Optimizer optimizer = 3; }
//	message Entry      { string name = 1; repeated int64 shape = 2 [packed]; repeated float data = 3 [packed]; }
//	message Optimizer  { string type = 1; repeated Scalar parameters = 2; repeated Entry buffers = 3; }
//	message Scalar     { string name = 1; double value = 2; }
const (
	ckptStateDict protowire.Number = 1
	ckptMetadata  protowire.Number = 2
	ckptOptimizer protowire.Number = 3

	entryName  protowire.Number = 1
	entryShape protowire.Number = 2
	entryData  protowire.Number = 3

	optType   protowire.Number = 1
	optParams protowire.Number = 2
	optBufs   protowire.Number = 3

	scalarName  protowire.Number = 1
	scalarValue protowire.Number = 2

	metaRunID        protowire.Number = 1
	metaEpoch        protowire.Number = 2
	metaLearningRate protowire.Number = 3
	metaTrainLoss    protowire.Number = 4
	metaTrainAcc     protowire.Number = 5
	metaValLoss      protowire.Number = 6
	metaValAcc       protowire.Number = 7
	metaCreatedAt    protowire.Number = 8
	metaFramework    protowire.Number = 9
	metaVersion      protowire.Number = 10
	metaNumClasses   protowire.Number = 11
	metaClassNames   protowire.Number = 12
	metaArchitecture protowire.Number = 13
)

func marshalProto(c *Checkpoint) []byte {
	var b []byte
	for _, name := range c.Names() {
		b = protowire.AppendTag(b, ckptStateDict, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEntry(nil, name, c.StateDict[name]))
	}
	b = protowire.AppendTag(b, ckptMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, appendMetadata(nil, c.Metadata))
	if c.Optimizer != nil {
		b = protowire.AppendTag(b, ckptOptimizer, protowire.BytesType)
		b = protowire.AppendBytes(b, appendOptimizer(nil, c.Optimizer))
	}
	return b
}

func appendEntry(b []byte, name string, t Tensor) []byte {
	b = protowire.AppendTag(b, entryName, protowire.BytesType)
	b = protowire.AppendString(b, name)

	var shape []byte
	for _, d := range t.Shape {
		shape = protowire.AppendVarint(shape, uint64(d))
	}
	b = protowire.AppendTag(b, entryShape, protowire.BytesType)
	b = protowire.AppendBytes(b, shape)

	b = protowire.AppendTag(b, entryData, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(t.Data)))
	for _, v := range t.Data {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

func appendOptimizer(b []byte, o *OptimizerState) []byte {
	b = protowire.AppendTag(b, optType, protowire.BytesType)
	b = protowire.AppendString(b, o.Type)

	names := make([]string, 0, len(o.Parameters))
	for k := range o.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		var s []byte
		s = protowire.AppendTag(s, scalarName, protowire.BytesType)
		s = protowire.AppendString(s, k)
		s = protowire.AppendTag(s, scalarValue, protowire.Fixed64Type)
		s = protowire.AppendFixed64(s, math.Float64bits(o.Parameters[k]))
		b = protowire.AppendTag(b, optParams, protowire.BytesType)
		b = protowire.AppendBytes(b, s)
	}

	for _, k := range sortedKeys(o.Buffers) {
		b = protowire.AppendTag(b, optBufs, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEntry(nil, k, o.Buffers[k]))
	}
	return b
}

func appendMetadata(b []byte, m Metadata) []byte {
	str := func(num protowire.Number, v string) {
		if v != "" {
			b = protowire.AppendTag(b, num, protowire.BytesType)
			b = protowire.AppendString(b, v)
		}
	}
	double := func(num protowire.Number, v float64) {
		b = protowire.AppendTag(b, num, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v))
	}
	varint := func(num protowire.Number, v int64) {
		b = protowire.AppendTag(b, num, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v))
	}

	str(metaRunID, m.RunID)
	varint(metaEpoch, int64(m.Epoch))
	double(metaLearningRate, m.LearningRate)
	double(metaTrainLoss, m.TrainLoss)
	double(metaTrainAcc, m.TrainAcc)
	double(metaValLoss, m.ValLoss)
	double(metaValAcc, m.ValAcc)
	if !m.CreatedAt.IsZero() {
		varint(metaCreatedAt, m.CreatedAt.UnixNano())
	}
	str(metaFramework, m.Framework)
	str(metaVersion, m.Version)
	varint(metaNumClasses, int64(m.NumClasses))
	for _, name := range m.ClassNames {
		b = protowire.AppendTag(b, metaClassNames, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	str(metaArchitecture, m.Architecture)
	return b
}

// fieldFunc handles one field; it returns the bytes consumed or a negative
// protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func unmarshalProto(data []byte) (*Checkpoint, error) {
	c := &Checkpoint{StateDict: make(map[string]Tensor)}
	var inner error
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return 0
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		switch num {
		case ckptStateDict:
			name, t, err := parseEntry(v)
			if err != nil {
				inner = err
				return -1
			}
			c.StateDict[name] = t
		case ckptMetadata:
			if inner = parseMetadata(v, &c.Metadata); inner != nil {
				return -1
			}
		case ckptOptimizer:
			if c.Optimizer, inner = parseOptimizer(v); inner != nil {
				return -1
			}
		}
		return n
	})
	if inner != nil {
		return nil, errors.Wrap(inner, "decode checkpoint")
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}
	return c, nil
}

func parseEntry(data []byte) (string, Tensor, error) {
	var name string
	var t Tensor
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return 0
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		switch num {
		case entryName:
			name = string(v)
		case entryShape:
			for len(v) > 0 {
				d, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return m
				}
				t.Shape = append(t.Shape, int(d))
				v = v[m:]
			}
		case entryData:
			if len(v)%4 != 0 {
				return -1
			}
			t.Data = make([]float32, 0, len(v)/4)
			for len(v) > 0 {
				bits, m := protowire.ConsumeFixed32(v)
				if m < 0 {
					return m
				}
				t.Data = append(t.Data, math.Float32frombits(bits))
				v = v[m:]
			}
		}
		return n
	})
	if err != nil {
		return "", Tensor{}, errors.Wrap(err, "tensor entry")
	}
	if name == "" {
		return "", Tensor{}, errors.New("tensor entry without a name")
	}
	if t.Data == nil {
		t.Data = []float32{}
	}
	return name, t, nil
}

func parseOptimizer(data []byte) (*OptimizerState, error) {
	o := &OptimizerState{Parameters: make(map[string]float64)}
	var inner error
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return 0
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		switch num {
		case optType:
			o.Type = string(v)
		case optParams:
			var key string
			var val float64
			if inner = walk(v, func(num protowire.Number, typ protowire.Type, b []byte) int {
				switch {
				case num == scalarName && typ == protowire.BytesType:
					s, m := protowire.ConsumeString(b)
					key = s
					return m
				case num == scalarValue && typ == protowire.Fixed64Type:
					bits, m := protowire.ConsumeFixed64(b)
					val = math.Float64frombits(bits)
					return m
				}
				return 0
			}); inner != nil {
				return -1
			}
			o.Parameters[key] = val
		case optBufs:
			name, t, err := parseEntry(v)
			if err != nil {
				inner = err
				return -1
			}
			if o.Buffers == nil {
				o.Buffers = make(map[string]Tensor)
			}
			o.Buffers[name] = t
		}
		return n
	})
	if inner != nil {
		return nil, inner
	}
	if err != nil {
		return nil, errors.Wrap(err, "optimizer state")
	}
	return o, nil
}

func parseMetadata(data []byte, m *Metadata) error {
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch typ {
		case protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return n
			}
			switch num {
			case metaRunID:
				m.RunID = s
			case metaFramework:
				m.Framework = s
			case metaVersion:
				m.Version = s
			case metaClassNames:
				m.ClassNames = append(m.ClassNames, s)
			case metaArchitecture:
				m.Architecture = s
			}
			return n
		case protowire.Fixed64Type:
			bits, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return n
			}
			v := math.Float64frombits(bits)
			switch num {
			case metaLearningRate:
				m.LearningRate = v
			case metaTrainLoss:
				m.TrainLoss = v
			case metaTrainAcc:
				m.TrainAcc = v
			case metaValLoss:
				m.ValLoss = v
			case metaValAcc:
				m.ValAcc = v
			}
			return n
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n
			}
			switch num {
			case metaEpoch:
				m.Epoch = int(v)
			case metaCreatedAt:
				m.CreatedAt = time.Unix(0, int64(v)).UTC()
			case metaNumClasses:
				m.NumClasses = int(v)
			}
			return n
		}
		return 0
	})
	return errors.Wrap(err, "metadata")
}
