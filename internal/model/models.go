package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// 所有模型的统一导入点
// 用于 AutoMigrate
var AllModels = []interface{}{
	&ChatTurn{},
	&ChatSession{},
	&SharedChat{},
	&User{},
	&AuthToken{},
}

// JSON jsonb 字段的通用映射
type JSON map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan 实现 sql.Scanner 接口
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("unsupported type for JSON scan")
	}

	return json.Unmarshal(bytes, j)
}

// GormDataType 指定 gorm 数据类型
func (JSON) GormDataType() string {
	return "jsonb"
}
