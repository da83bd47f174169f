package snapkeeper

import (
	"strings"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

var (
	previewOnce sync.Once
	previewConv *converter.Converter
)

// preview derives a short plain-ish text excerpt from snapshot markup for
// list rendering. Best-effort: conversion failures produce an empty preview,
// never an error.
func (k *Keeper) preview(content string) string {
	if k.cfg.PreviewLength < 0 {
		return ""
	}
	limit := k.cfg.PreviewLength
	if limit == 0 {
		limit = DefaultPreviewLength
	}

	previewOnce.Do(func() {
		previewConv = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		)
	})

	md, err := previewConv.ConvertString(content)
	if err != nil {
		k.logger.Debug("snapkeeper: preview conversion failed", "error", err)
		return ""
	}
	md = strings.Join(strings.Fields(md), " ")
	return truncate(md, limit)
}
