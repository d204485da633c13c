// Package filewriter provides a control channel decorator which mirrors the
// device's programmed objects into a human-readable file, one command line per
// object. useful for dry runs and for inspecting what a manager instance has
// actually installed.
package filewriter

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/utils"
)

// NewControlChannelFileWriterImpl creates a new ControlChannelFileWriterImpl
// decorating next. object state is written to the file at path after every
// successful mutating call.
func NewControlChannelFileWriterImpl(next hw.ControlChannel, path string, log klog.Logger) *ControlChannelFileWriterImpl {
	return &ControlChannelFileWriterImpl{
		next:    next,
		path:    path,
		log:     log,
		entries: make(map[string]string),
	}
}

// ControlChannelFileWriterImpl implements hw.ControlChannel
type ControlChannelFileWriterImpl struct {
	next hw.ControlChannel
	path string
	log  klog.Logger

	// entries maps an object key to its rendered command line, order holds
	// keys in insertion order for a stable file layout
	entries map[string]string
	order   []string
}

func (w *ControlChannelFileWriterImpl) record(key, line string) {
	if _, ok := w.entries[key]; !ok {
		w.order = append(w.order, key)
	}
	w.entries[key] = line
	if err := w.writeStateFile(); err != nil {
		w.log.Error(err, "failed to write state file")
	}
}

func (w *ControlChannelFileWriterImpl) forget(key string) {
	if _, ok := w.entries[key]; !ok {
		return
	}
	delete(w.entries, key)
	for i, k := range w.order {
		if k == key {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	if err := w.writeStateFile(); err != nil {
		w.log.Error(err, "failed to write state file")
	}
}

// writeStateFile renders all live objects and writes them to the state file
// if its current content differs.
func (w *ControlChannelFileWriterImpl) writeStateFile() error {
	w.log.V(10).Info("writing state file", "path", w.path)

	currentContent := &bytes.Buffer{}
	exist, err := utils.PathExists(w.path)
	if err != nil {
		return errors.Wrap(err, "failed to check if state file exists")
	}
	if exist {
		data, err := os.ReadFile(w.path)
		if err != nil {
			return errors.Wrap(err, "failed to read state file")
		}
		currentContent.Write(data)
	}

	newContent := &bytes.Buffer{}
	for _, key := range w.order {
		newContent.WriteString(w.entries[key])
		newContent.WriteString("\n")
	}

	if bytes.Equal(currentContent.Bytes(), newContent.Bytes()) {
		w.log.V(10).Info("state did not change, not writing state file")
		return nil
	}

	f, err := os.Create(w.path)
	if err != nil {
		return errors.Wrap(err, "failed to create state file")
	}
	defer f.Close()

	_, err = newContent.WriteTo(f)
	if err != nil {
		return errors.Wrap(err, "failed to write state file content")
	}
	return nil
}

func filterKey(kind string, id hw.FilterID) string {
	return kind + "/" + strconv.FormatUint(uint64(id), 10)
}

// SetL2Filter implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) SetL2Filter(dst hw.VnicID, cfg hw.L2FilterConfig) (hw.FilterID, error) {
	id, err := w.next.SetL2Filter(dst, cfg)
	if err != nil {
		return id, err
	}
	line := fmt.Sprintf("l2-filter %d dst_id %d %s", id, dst, strings.Join(cfg.GenCmdLineArgs(), " "))
	w.record(filterKey("l2-filter", id), line)
	return id, nil
}

// ClearL2Filter implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) ClearL2Filter(id hw.FilterID) error {
	if err := w.next.ClearL2Filter(id); err != nil {
		return err
	}
	w.forget(filterKey("l2-filter", id))
	return nil
}

// SetEMFilter implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) SetEMFilter(f *types.Filter) (hw.FilterID, error) {
	id, err := w.next.SetEMFilter(f)
	if err != nil {
		return id, err
	}
	line := fmt.Sprintf("em-filter %d %s", id, strings.Join(f.GenCmdLineArgs(), " "))
	w.record(filterKey("em-filter", id), line)
	return id, nil
}

// ClearEMFilter implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) ClearEMFilter(id hw.FilterID) error {
	if err := w.next.ClearEMFilter(id); err != nil {
		return err
	}
	w.forget(filterKey("em-filter", id))
	return nil
}

// SetNTupleFilter implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) SetNTupleFilter(f *types.Filter) (hw.FilterID, error) {
	id, err := w.next.SetNTupleFilter(f)
	if err != nil {
		return id, err
	}
	line := fmt.Sprintf("ntuple-filter %d %s", id, strings.Join(f.GenCmdLineArgs(), " "))
	w.record(filterKey("ntuple-filter", id), line)
	return id, nil
}

// ClearNTupleFilter implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) ClearNTupleFilter(id hw.FilterID) error {
	if err := w.next.ClearNTupleFilter(id); err != nil {
		return err
	}
	w.forget(filterKey("ntuple-filter", id))
	return nil
}

// AllocVnic implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) AllocVnic() (hw.VnicID, error) {
	return w.next.AllocVnic()
}

// FreeVnic implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) FreeVnic(id hw.VnicID) error {
	if err := w.next.FreeVnic(id); err != nil {
		return err
	}
	w.forget("vnic/" + strconv.FormatUint(uint64(id), 10))
	w.forget("rss/" + strconv.FormatUint(uint64(id), 10))
	return nil
}

// ConfigureVnic implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) ConfigureVnic(cfg hw.VnicConfig) error {
	if err := w.next.ConfigureVnic(cfg); err != nil {
		return err
	}
	line := fmt.Sprintf("vnic %s", strings.Join(cfg.GenCmdLineArgs(), " "))
	w.record("vnic/"+strconv.FormatUint(uint64(cfg.ID), 10), line)
	return nil
}

// AllocRSSContext implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) AllocRSSContext() (hw.RSSContextID, error) {
	return w.next.AllocRSSContext()
}

// FreeRSSContext implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) FreeRSSContext(id hw.RSSContextID) error {
	return w.next.FreeRSSContext(id)
}

// ConfigureRSS implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) ConfigureRSS(cfg hw.RSSConfig) error {
	if err := w.next.ConfigureRSS(cfg); err != nil {
		return err
	}
	line := fmt.Sprintf("rss %s", strings.Join(cfg.GenCmdLineArgs(), " "))
	w.record("rss/"+strconv.FormatUint(uint64(cfg.Vnic), 10), line)
	return nil
}

// QueryTunnelRedirect implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) QueryTunnelRedirect() (uint32, error) {
	return w.next.QueryTunnelRedirect()
}

// SetTunnelRedirect implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) SetTunnelRedirect(t types.TunnelType) error {
	if err := w.next.SetTunnelRedirect(t); err != nil {
		return err
	}
	w.record("tunnel/"+t.String(), "tunnel-redirect "+t.String())
	return nil
}

// FreeTunnelRedirect implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) FreeTunnelRedirect(t types.TunnelType) error {
	if err := w.next.FreeTunnelRedirect(t); err != nil {
		return err
	}
	w.forget("tunnel/" + t.String())
	return nil
}

// TunnelRedirectInfo implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) TunnelRedirectInfo(t types.TunnelType) (uint16, error) {
	return w.next.TunnelRedirectInfo(t)
}

// VFDefaultVnic implements hw.ControlChannel interface
func (w *ControlChannelFileWriterImpl) VFDefaultVnic(vf uint32) (hw.VnicID, error) {
	return w.next.VFDefaultVnic(vf)
}
