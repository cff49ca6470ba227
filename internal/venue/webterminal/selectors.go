package webterminal

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"tradebridge/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectorsYAML []byte

//go:embed selectors.schema.json
var selectorsSchemaJSON string

// Selectors 汇总终端页面上用到的全部 DOM 定位符。
type Selectors struct {
	UserMenu    string              `yaml:"user_menu" json:"user_menu"`
	Login       LoginSelectors      `yaml:"login" json:"login"`
	Settings    SettingsSelectors   `yaml:"settings" json:"settings"`
	QuickTrade  QuickTradeSelectors `yaml:"quick_trade" json:"quick_trade"`
	OrderPanel  OrderPanelSelectors `yaml:"order_panel" json:"order_panel"`
	Positions   PositionSelectors   `yaml:"positions" json:"positions"`
	ModifyPopup PopupSelectors      `yaml:"modify_popup" json:"modify_popup"`
}

type LoginSelectors struct {
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"password"`
	Submit   string `yaml:"submit" json:"submit"`
}

type SettingsSelectors struct {
	Open string `yaml:"open" json:"open"`
	// ConfirmationsLabel is matched against label text, not a selector.
	ConfirmationsLabel string `yaml:"confirmations_label" json:"confirmations_label"`
	DialogClose        string `yaml:"dialog_close" json:"dialog_close"`
}

type QuickTradeSelectors struct {
	Volume string `yaml:"volume" json:"volume"`
	Buy    string `yaml:"buy" json:"buy"`
	Sell   string `yaml:"sell" json:"sell"`
}

type OrderPanelSelectors struct {
	Open       string `yaml:"open" json:"open"`
	SymbolRows string `yaml:"symbol_rows" json:"symbol_rows"`
	SymbolText string `yaml:"symbol_text" json:"symbol_text"`
	SLToggle   string `yaml:"sl_toggle" json:"sl_toggle"`
	TPToggle   string `yaml:"tp_toggle" json:"tp_toggle"`
	Volume     string `yaml:"volume" json:"volume"`
	StopLoss   string `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit string `yaml:"take_profit" json:"take_profit"`
	Buy        string `yaml:"buy" json:"buy"`
	Sell       string `yaml:"sell" json:"sell"`
	BackXPath  string `yaml:"back_xpath" json:"back_xpath"`
}

type PositionSelectors struct {
	Rows           string `yaml:"rows" json:"rows"`
	IDCell         string `yaml:"id_cell" json:"id_cell"`
	CloseButton    string `yaml:"close_button" json:"close_button"`
	EditTakeProfit string `yaml:"edit_take_profit" json:"edit_take_profit"`
	EditStopLoss   string `yaml:"edit_stop_loss" json:"edit_stop_loss"`
}

type PopupSelectors struct {
	Root  string `yaml:"root" json:"root"`
	Input string `yaml:"input" json:"input"`
	Save  string `yaml:"save" json:"save"`
}

// DefaultSelectors 返回内置选择器集合。
func DefaultSelectors() (Selectors, error) {
	var sel Selectors
	if err := decodeSelectors(defaultSelectorsYAML, &sel); err != nil {
		return Selectors{}, fmt.Errorf("parse embedded selectors failed: %w", err)
	}
	return sel, nil
}

// Registry 持有当前生效的选择器，并在覆盖文件变化时热加载。
type Registry struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu      sync.RWMutex
	current Selectors
	version int64
}

// NewRegistry loads the embedded defaults and, when path is set, merges the
// override file on top and watches it for changes.
func NewRegistry(path string) (*Registry, error) {
	schema, err := compileSelectorSchema()
	if err != nil {
		return nil, err
	}
	r := &Registry{path: strings.TrimSpace(path), schema: schema}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if r.path == "" {
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read selector config failed: %w", err)
	}
	r.v = v
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("[webterminal] selector reload failed (%s), keeping previous set: %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	return r, nil
}

// Current 返回当前选择器集合（值拷贝）。
func (r *Registry) Current() Selectors {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

func (r *Registry) reload() error {
	sel, err := DefaultSelectors()
	if err != nil {
		return err
	}
	source := "embedded"
	if r.path != "" {
		raw, err := os.ReadFile(r.path)
		if err != nil {
			return fmt.Errorf("read selector config failed: %w", err)
		}
		if err := decodeSelectors(raw, &sel); err != nil {
			return fmt.Errorf("parse selector config failed: %w", err)
		}
		source = filepath.Base(r.path)
	}
	if err := r.validate(sel); err != nil {
		return err
	}
	r.mu.Lock()
	r.current = sel
	r.version++
	r.mu.Unlock()
	logger.Infof("[webterminal] selectors loaded from %s (version=%d)", source, r.Version())
	return nil
}

func (r *Registry) validate(sel Selectors) error {
	raw, err := json.Marshal(sel)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := r.schema.Validate(doc); err != nil {
		return fmt.Errorf("selector set invalid: %w", err)
	}
	return nil
}

// decodeSelectors overlays raw onto dst; keys absent from raw keep their value.
func decodeSelectors(raw []byte, dst *Selectors) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(dst)
}

func compileSelectorSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("selectors.schema.json", strings.NewReader(selectorsSchemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("selectors.schema.json")
}
