// Package csvout 把结果集写成逗号分隔的 UTF-8 表格文件。
package csvout

import (
	"context"
	"encoding/csv"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/John-Robertt/podstats/internal/domain"
	"github.com/John-Robertt/podstats/internal/infra/fsx"
)

// Write 把 rows 写到 path：一行表头 + 每个非空行一条记录。
//
// 表头取首个非空行的列集合（没有任何行时使用固定列集合），因此首个元素是占位也不会失败。
// 先写临时文件再 rename，失败时不会留下半截文件。
func Write(rows domain.ResultSet, path string) error {
	err := fsx.WriteAtomic(path, func(w io.Writer) error {
		return Encode(w, rows)
	})
	switch {
	case err == nil:
	case fsx.IsPathTypeConflict(err):
		return errors.Wrapf(err, "输出路径 %s 不是普通文件，请换一个 CSV 路径", path)
	case fsx.IsCrossDevice(err):
		return errors.Wrapf(err, "输出目录 %s 不支持原子替换", filepath.Dir(path))
	default:
		return errors.Wrapf(err, "写入 %s 失败", path)
	}
	log.WithFields(log.Fields{
		"path": path,
		"rows": len(rows.Rows()),
	}).Info("CSV 已写出")
	return nil
}

// Encode 把 rows 以 CSV 编码写入 w。
func Encode(w io.Writer, rows domain.ResultSet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(rows.Header()); err != nil {
		return err
	}
	for _, r := range rows {
		if r == nil {
			continue
		}
		if err := cw.Write(r.Values()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Writer 是绑定了输出路径的 CSV sink。
type Writer struct {
	Path string
}

func (w Writer) Target() string { return w.Path }

func (w Writer) WriteRows(_ context.Context, rows domain.ResultSet) error {
	return Write(rows, w.Path)
}
