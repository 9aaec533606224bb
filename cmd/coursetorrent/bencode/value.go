package bencode

import (
	"bytes"
	"fmt"
)

// Value is a decoded bencode value. The concrete types are Int, String, List
// and *Dict; nothing outside this package can add another.
type Value interface {
	bencodeValue()
}

// Int is a bencode integer.
type Int int64

// String is a bencode byte string. It is not necessarily valid UTF-8.
type String []byte

// List is an ordered sequence of values.
type List []Value

// Dict is a dictionary with unique string keys. Keys keep the order in which
// they were decoded or constructed.
type Dict struct {
	keys   []string
	values map[string]Value
}

func (Int) bencodeValue()    {}
func (String) bencodeValue() {}
func (List) bencodeValue()   {}
func (*Dict) bencodeValue()  {}

func (s String) String() string { return string(s) }

// Pair is a single dictionary entry used to build a Dict.
type Pair struct {
	Key   string
	Value Value
}

// NewDict builds a dictionary from pairs, keeping their order.
// Repeated keys are rejected.
func NewDict(pairs ...Pair) (*Dict, error) {
	d := &Dict{
		keys:   make([]string, 0, len(pairs)),
		values: make(map[string]Value, len(pairs)),
	}
	for _, p := range pairs {
		if err := d.add(p.Key, p.Value); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// MustDict is like NewDict but panics on duplicate keys.
func MustDict(pairs ...Pair) *Dict {
	d, err := NewDict(pairs...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Dict) add(key string, v Value) error {
	if _, ok := d.values[key]; ok {
		return fmt.Errorf("duplicate dictionary key %q", key)
	}
	if v == nil {
		return fmt.Errorf("nil value for dictionary key %q", key)
	}
	d.keys = append(d.keys, key)
	d.values[key] = v
	return nil
}

func (d *Dict) Len() int { return len(d.keys) }

// Keys returns the keys in dictionary order.
func (d *Dict) Keys() []string {
	return append([]string(nil), d.keys...)
}

func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// GetString returns the byte string stored under key.
func (d *Dict) GetString(key string) (string, bool) {
	s, ok := d.values[key].(String)
	return string(s), ok
}

// GetInt returns the integer stored under key.
func (d *Dict) GetInt(key string) (int64, bool) {
	i, ok := d.values[key].(Int)
	return int64(i), ok
}

func (d *Dict) GetList(key string) (List, bool) {
	l, ok := d.values[key].(List)
	return l, ok
}

func (d *Dict) GetDict(key string) (*Dict, bool) {
	sub, ok := d.values[key].(*Dict)
	return sub, ok
}

// Equal reports whether a and b hold the same value. Dictionaries compare
// equal regardless of key order.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Int:
		y, ok := b.(Int)
		return ok && x == y
	case String:
		y, ok := b.(String)
		return ok && bytes.Equal(x, y)
	case List:
		y, ok := b.(List)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case *Dict:
		y, ok := b.(*Dict)
		if !ok {
			return false
		}
		if x == nil || y == nil {
			return x == y
		}
		if x.Len() != y.Len() {
			return false
		}
		for _, k := range x.keys {
			other, ok := y.values[k]
			if !ok || !Equal(x.values[k], other) {
				return false
			}
		}
		return true
	default:
		return a == nil && b == nil
	}
}
