package oracle

import (
	"encoding/gob"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Codec 描述一种打分模型在模型包中的编解码方式。
// 各实现在 init 中调用 Register(kind, codec) 即可被 bundle 加载器识别。
type Codec struct {
	Decode func(r io.Reader) (RawOracle, error)
	Encode func(w io.Writer, o RawOracle) error
}

// KindFactor 是内置隐因子模型的类型名。
const KindFactor = "factor"

var (
	codecs   = make(map[string]Codec)
	codecsMu sync.RWMutex
)

func init() {
	Register(KindFactor, Codec{Decode: decodeFactor, Encode: encodeFactor})
}

// Register 注册一种模型类型的编解码器。
func Register(kind string, codec Codec) {
	if kind == "" || codec.Decode == nil {
		return
	}
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[kind] = codec
}

// Kinds 返回当前已注册的模型类型列表（排序），用于错误提示。
func Kinds() []string {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	kinds := make([]string, 0, len(codecs))
	for k := range codecs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func lookup(kind string) (Codec, error) {
	codecsMu.RLock()
	codec, ok := codecs[kind]
	codecsMu.RUnlock()
	if !ok {
		return Codec{}, fmt.Errorf("unsupported oracle kind %q (supported: %v)", kind, Kinds())
	}
	return codec, nil
}

// Decode 按类型解码打分模型并包装为 Adapter。
func Decode(kind string, r io.Reader) (*Adapter, error) {
	codec, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	raw, err := codec.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s oracle: %w", kind, err)
	}
	return NewAdapter(kind, raw), nil
}

// Encode 按类型编码打分模型。
func Encode(kind string, w io.Writer, o RawOracle) error {
	codec, err := lookup(kind)
	if err != nil {
		return err
	}
	if codec.Encode == nil {
		return fmt.Errorf("oracle kind %q does not support encoding", kind)
	}
	return codec.Encode(w, o)
}

func decodeFactor(r io.Reader) (RawOracle, error) {
	var m FactorModel
	if err := gob.NewDecoder(r).Decode(&m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func encodeFactor(w io.Writer, o RawOracle) error {
	m, ok := o.(*FactorModel)
	if !ok {
		return fmt.Errorf("factor codec cannot encode %T", o)
	}
	return gob.NewEncoder(w).Encode(m)
}
