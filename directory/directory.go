// Package directory encodes and decodes the source directory payload and
// keeps the merged view of the services a channel offers.
//
// The payload is a Map keyed by service id (UInt). Each entry is a
// FilterList whose info and state filters are ElementLists.
package directory

import (
	"errors"
	"slices"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/msg"
)

// Filter ids and their request mask bits.
const (
	FilterInfo  uint8 = 1
	FilterState uint8 = 2

	MaskInfo  uint32 = 1 << (FilterInfo - 1)
	MaskState uint32 = 1 << (FilterState - 1)

	// MaskAll is the filter the session requests.
	MaskAll = MaskInfo | MaskState
)

// Element names.
const (
	elemName              = "Name"
	elemVendor            = "Vendor"
	elemCapabilities      = "Capabilities"
	elemQoS               = "QoS"
	elemItemList          = "ItemList"
	elemServiceState      = "ServiceState"
	elemAcceptingRequests = "AcceptingRequests"
)

// Service is one entry of the directory.
type Service struct {
	ID                uint16       `json:"id" yaml:"id"`
	Name              string       `json:"name" yaml:"name"`
	Vendor            string       `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Capabilities      []msg.Domain `json:"capabilities" yaml:"capabilities"`
	Qos               []codec.Qos  `json:"-" yaml:"-"`
	ItemList          string       `json:"item_list,omitempty" yaml:"item_list,omitempty"`
	Up                bool         `json:"up" yaml:"up"`
	AcceptingRequests bool         `json:"accepting_requests" yaml:"accepting_requests"`
}

// Supports reports whether the service offers domain d.
func (s *Service) Supports(d msg.Domain) bool {
	return slices.Contains(s.Capabilities, d)
}

// Available reports whether requests can be routed to the service.
func (s *Service) Available() bool {
	return s.Up && s.AcceptingRequests
}

// Entry is one change to the directory.
type Entry struct {
	Action codec.MapAction
	// Filters is the mask of filters carried by the entry.
	Filters uint32
	Service Service
}

// Encode writes entries as a directory payload carrying the filters in mask.
func Encode(it *codec.EncodeIterator, entries []Entry, mask uint32) error {
	m := codec.Map{KeyType: codec.DataTypeUInt, ContainerType: codec.DataTypeFilterList}
	if err := m.EncodeInit(it); err != nil {
		return err
	}
	for i := range entries {
		if err := encodeEntry(it, &entries[i], mask); err != nil {
			_ = m.EncodeComplete(it, false)
			return err
		}
	}
	return m.EncodeComplete(it, true)
}

func encodeEntry(it *codec.EncodeIterator, e *Entry, mask uint32) error {
	key := codec.UInt{Value: uint64(e.Service.ID)}
	me := codec.MapEntry{Action: e.Action}
	if e.Action == codec.MapDelete {
		return me.Encode(it, key)
	}
	if err := me.EncodeInit(it, key); err != nil {
		return err
	}
	fl := codec.FilterList{ContainerType: codec.DataTypeElementList}
	err := fl.EncodeInit(it)
	if err == nil && mask&MaskInfo != 0 {
		err = encodeFilter(it, FilterInfo, func(el *elements) error { return el.info(&e.Service) })
	}
	if err == nil && mask&MaskState != 0 {
		err = encodeFilter(it, FilterState, func(el *elements) error { return el.state(&e.Service) })
	}
	if err == nil {
		err = fl.EncodeComplete(it, true)
	}
	if err != nil {
		_ = me.EncodeComplete(it, false)
		return err
	}
	return me.EncodeComplete(it, true)
}

func encodeFilter(it *codec.EncodeIterator, id uint8, body func(*elements) error) error {
	fe := codec.FilterEntry{Action: codec.FilterSet, ID: id}
	if err := fe.EncodeInit(it); err != nil {
		return err
	}
	el := codec.ElementList{Flags: codec.ElementListHasStandardData}
	err := el.EncodeInit(it)
	if err == nil {
		err = body(&elements{it: it})
	}
	if err == nil {
		err = el.EncodeComplete(it, true)
	}
	if err != nil {
		_ = fe.EncodeComplete(it, false)
		return err
	}
	return fe.EncodeComplete(it, true)
}

type elements struct {
	it *codec.EncodeIterator
}

func (e *elements) put(name string, p codec.Primitive) error {
	return (&codec.ElementEntry{Name: name}).Encode(e.it, p)
}

func (e *elements) info(s *Service) error {
	if err := e.put(elemName, codec.ASCII(s.Name)); err != nil {
		return err
	}
	if s.Vendor != "" {
		if err := e.put(elemVendor, codec.ASCII(s.Vendor)); err != nil {
			return err
		}
	}
	caps := codec.Array{ItemType: codec.DataTypeUInt, ItemLength: 1}
	for _, d := range s.Capabilities {
		caps.Items = append(caps.Items, codec.UInt{Value: uint64(d)})
	}
	if err := e.put(elemCapabilities, caps); err != nil {
		return err
	}
	if len(s.Qos) > 0 {
		qos := codec.Array{ItemType: codec.DataTypeQos}
		for _, q := range s.Qos {
			qos.Items = append(qos.Items, q)
		}
		if err := e.put(elemQoS, qos); err != nil {
			return err
		}
	}
	if s.ItemList != "" {
		return e.put(elemItemList, codec.ASCII(s.ItemList))
	}
	return nil
}

func (e *elements) state(s *Service) error {
	if err := e.put(elemServiceState, boolUInt(s.Up)); err != nil {
		return err
	}
	return e.put(elemAcceptingRequests, boolUInt(s.AcceptingRequests))
}

func boolUInt(b bool) codec.UInt {
	if b {
		return codec.UInt{Value: 1}
	}
	return codec.UInt{}
}

// Decode reads a directory payload from the current payload of it.
func Decode(it *codec.DecodeIterator) ([]Entry, error) {
	const op = "decode directory"
	var m codec.Map
	if err := m.Decode(it); err != nil {
		return nil, err
	}
	if m.KeyType != codec.DataTypeUInt || m.ContainerType != codec.DataTypeFilterList {
		return nil, failure.Decode(op, "unexpected map %s -> %s", m.KeyType, m.ContainerType)
	}
	var entries []Entry
	for {
		var me codec.MapEntry
		err := m.DecodeEntry(it, &me)
		if errors.Is(err, codec.ErrEndOfContainer) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		key, err := m.DecodeKey(it, &me)
		if err != nil {
			return nil, err
		}
		id := key.(codec.UInt).Value
		if id > 0xFFFF {
			return nil, failure.Decode(op, "service id %d out of range", id)
		}
		e := Entry{Action: me.Action, Service: Service{ID: uint16(id)}}
		if me.Action != codec.MapDelete {
			if err := decodeFilters(it, &e); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
}

func decodeFilters(it *codec.DecodeIterator, e *Entry) error {
	var fl codec.FilterList
	if err := fl.Decode(it); err != nil {
		return err
	}
	for {
		var fe codec.FilterEntry
		err := fl.DecodeEntry(it, &fe)
		if errors.Is(err, codec.ErrEndOfContainer) {
			return nil
		}
		if err != nil {
			return err
		}
		if fe.Action == codec.FilterClear || fe.ContainerType != codec.DataTypeElementList {
			continue
		}
		switch fe.ID {
		case FilterInfo:
			e.Filters |= MaskInfo
		case FilterState:
			e.Filters |= MaskState
		default:
			continue
		}
		if err := decodeElements(it, &e.Service); err != nil {
			return err
		}
	}
}

func decodeElements(it *codec.DecodeIterator, s *Service) error {
	var el codec.ElementList
	if err := el.Decode(it); err != nil {
		return err
	}
	for {
		var ee codec.ElementEntry
		err := el.DecodeEntry(it, &ee)
		if errors.Is(err, codec.ErrEndOfContainer) {
			return nil
		}
		if err != nil {
			return err
		}
		if ee.DataType == codec.DataTypeNoData {
			continue
		}
		p, err := codec.DecodePrimitive(ee.DataType, ee.EncodedData, it.Version())
		if err != nil {
			return err
		}
		applyElement(s, ee.Name, p)
	}
}

func applyElement(s *Service, name string, p codec.Primitive) {
	switch v := p.(type) {
	case codec.Buffer:
		switch name {
		case elemName:
			s.Name = string(v.Data)
		case elemVendor:
			s.Vendor = string(v.Data)
		case elemItemList:
			s.ItemList = string(v.Data)
		}
	case codec.UInt:
		switch name {
		case elemServiceState:
			s.Up = v.Value != 0
		case elemAcceptingRequests:
			s.AcceptingRequests = v.Value != 0
		}
	case codec.Array:
		switch name {
		case elemCapabilities:
			s.Capabilities = s.Capabilities[:0]
			for _, item := range v.Items {
				if u, ok := item.(codec.UInt); ok {
					s.Capabilities = append(s.Capabilities, msg.Domain(u.Value))
				}
			}
		case elemQoS:
			s.Qos = s.Qos[:0]
			for _, item := range v.Items {
				if q, ok := item.(codec.Qos); ok {
					s.Qos = append(s.Qos, q)
				}
			}
		}
	}
}
