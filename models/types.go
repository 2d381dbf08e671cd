package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"ExplainerVideo-server/layout"
)

// StringList 以 JSON 数组形式存储
type StringList []string

// 实现 driver.Valuer 接口: Go Slice -> JSON String (存入数据库)
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// 实现 sql.Scanner 接口: JSON String -> Go Slice (从数据库读取)
func (l *StringList) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil || b == nil {
		return err
	}
	return json.Unmarshal(b, l)
}

// LayoutDoc stores a layout descriptor in a JSON column.
type LayoutDoc layout.Descriptor

func NewLayoutDoc(d *layout.Descriptor) *LayoutDoc {
	if d == nil {
		return nil
	}
	doc := LayoutDoc(*d)
	return &doc
}

func (l *LayoutDoc) Descriptor() *layout.Descriptor {
	if l == nil {
		return nil
	}
	d := layout.Descriptor(*l)
	return &d
}

func (l LayoutDoc) Value() (driver.Value, error) {
	b, err := json.Marshal(layout.Descriptor(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *LayoutDoc) Scan(value interface{}) error {
	b, err := jsonBytes(value)
	if err != nil || b == nil {
		return err
	}
	var d layout.Descriptor
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	*l = LayoutDoc(d)
	return nil
}

func (l LayoutDoc) MarshalJSON() ([]byte, error) {
	return json.Marshal(layout.Descriptor(l))
}

func (l *LayoutDoc) UnmarshalJSON(data []byte) error {
	var d layout.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	*l = LayoutDoc(d)
	return nil
}

// mysql 驱动返回 []byte，postgres 可能返回 string
func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errors.New(fmt.Sprint("Failed to unmarshal JSON value:", value))
}
