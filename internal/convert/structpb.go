// Package convert maps domain values to and from the protobuf Struct messages
// carried by the Larder RPC service.
//
// Nullable fields are encoded as JSON null. Timestamps use the canonical JSON
// mapping of google.protobuf.Timestamp (RFC 3339 text).
package convert

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/and161185/larder/internal/model"
)

// Field names shared by the client and the server.
const (
	FieldID           = "id"
	FieldOwnerID      = "owner_id"
	FieldName         = "name"
	FieldBarcode      = "barcode"
	FieldUnit         = "unit"
	FieldLocation     = "location"
	FieldNotes        = "notes"
	FieldQuantity     = "quantity"
	FieldPurchaseDate = "purchase_date"
	FieldExpiryDate   = "expiry_date"
	FieldCreatedAt    = "created_at"
	FieldUpdatedAt    = "updated_at"

	FieldItem        = "item"
	FieldItems       = "items"
	FieldKind        = "kind"
	FieldUsername    = "username"
	FieldPassword    = "password"
	FieldUserID      = "user_id"
	FieldAccessToken = "access_token"
	FieldExpiresAt   = "expires_at"
)

// --- scalar helpers ---

func strValue(p *string) *structpb.Value {
	if p == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewStringValue(*p)
}

func numValue(p *float64) *structpb.Value {
	if p == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(*p)
}

// TimeValue encodes t with the Timestamp JSON mapping; nil becomes null.
func TimeValue(t *time.Time) *structpb.Value {
	if t == nil {
		return structpb.NewNullValue()
	}
	b, err := protojson.Marshal(timestamppb.New(*t))
	if err != nil {
		return structpb.NewNullValue()
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return structpb.NewNullValue()
	}
	return structpb.NewStringValue(s)
}

// String returns the string field key, or "" when absent or null.
func String(s *structpb.Struct, key string) (string, error) {
	p, err := OptString(s, key)
	if err != nil || p == nil {
		return "", err
	}
	return *p, nil
}

// OptString returns the nullable string field key.
func OptString(s *structpb.Struct, key string) (*string, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_StringValue:
		out := k.StringValue
		return &out, nil
	default:
		return nil, fmt.Errorf("field %s: want string, got %T", key, k)
	}
}

func optNumber(s *structpb.Struct, key string) (*float64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_NumberValue:
		out := k.NumberValue
		return &out, nil
	default:
		return nil, fmt.Errorf("field %s: want number, got %T", key, k)
	}
}

// OptTime decodes a Timestamp-mapped string field.
func OptTime(s *structpb.Struct, key string) (*time.Time, error) {
	p, err := OptString(s, key)
	if err != nil || p == nil {
		return nil, err
	}
	var ts timestamppb.Timestamp
	if err := protojson.Unmarshal([]byte(strconv.Quote(*p)), &ts); err != nil {
		return nil, fmt.Errorf("field %s: %w", key, err)
	}
	t := ts.AsTime()
	return &t, nil
}

// --- items ---

// ItemToStruct encodes every item field.
func ItemToStruct(it model.Item) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID:           structpb.NewStringValue(it.ID),
		FieldOwnerID:      strValue(it.OwnerID),
		FieldName:         structpb.NewStringValue(it.Name),
		FieldBarcode:      strValue(it.Barcode),
		FieldUnit:         strValue(it.Unit),
		FieldLocation:     strValue(it.Location),
		FieldNotes:        strValue(it.Notes),
		FieldQuantity:     numValue(it.Quantity),
		FieldPurchaseDate: strValue(it.PurchaseDate),
		FieldExpiryDate:   strValue(it.ExpiryDate),
		FieldCreatedAt:    TimeValue(it.CreatedAt),
		FieldUpdatedAt:    TimeValue(it.UpdatedAt),
	}}
}

// InputToStruct encodes only the editable fields.
func InputToStruct(in model.ItemInput) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldName:         structpb.NewStringValue(in.Name),
		FieldBarcode:      strValue(in.Barcode),
		FieldUnit:         strValue(in.Unit),
		FieldLocation:     strValue(in.Location),
		FieldNotes:        strValue(in.Notes),
		FieldQuantity:     numValue(in.Quantity),
		FieldPurchaseDate: strValue(in.PurchaseDate),
		FieldExpiryDate:   strValue(in.ExpiryDate),
	}}
}

// InputFromStruct decodes the editable fields; identity and timestamps are ignored.
func InputFromStruct(s *structpb.Struct) (model.ItemInput, error) {
	if s == nil {
		return model.ItemInput{}, fmt.Errorf("nil item")
	}
	var (
		in  model.ItemInput
		err error
	)
	if in.Name, err = String(s, FieldName); err != nil {
		return model.ItemInput{}, err
	}
	for _, f := range []struct {
		key string
		dst **string
	}{
		{FieldBarcode, &in.Barcode},
		{FieldUnit, &in.Unit},
		{FieldLocation, &in.Location},
		{FieldNotes, &in.Notes},
		{FieldPurchaseDate, &in.PurchaseDate},
		{FieldExpiryDate, &in.ExpiryDate},
	} {
		if *f.dst, err = OptString(s, f.key); err != nil {
			return model.ItemInput{}, err
		}
	}
	if in.Quantity, err = optNumber(s, FieldQuantity); err != nil {
		return model.ItemInput{}, err
	}
	return in, nil
}

// ItemFromStruct decodes a full item.
func ItemFromStruct(s *structpb.Struct) (model.Item, error) {
	in, err := InputFromStruct(s)
	if err != nil {
		return model.Item{}, err
	}
	id, err := String(s, FieldID)
	if err != nil {
		return model.Item{}, err
	}
	owner, err := OptString(s, FieldOwnerID)
	if err != nil {
		return model.Item{}, err
	}
	it := in.Item(id, owner)
	if it.CreatedAt, err = OptTime(s, FieldCreatedAt); err != nil {
		return model.Item{}, err
	}
	if it.UpdatedAt, err = OptTime(s, FieldUpdatedAt); err != nil {
		return model.Item{}, err
	}
	return it, nil
}

// ItemsToStruct wraps items as {"items": [...]}.
func ItemsToStruct(items []model.Item) *structpb.Struct {
	list := make([]*structpb.Value, 0, len(items))
	for _, it := range items {
		list = append(list, structpb.NewStructValue(ItemToStruct(it)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldItems: structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}
}

// ItemsFromStruct unwraps {"items": [...]}.
func ItemsFromStruct(s *structpb.Struct) ([]model.Item, error) {
	v, ok := s.GetFields()[FieldItems]
	if !ok {
		return []model.Item{}, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %s: want list", FieldItems)
	}
	out := make([]model.Item, 0, len(list.GetValues()))
	for i, el := range list.GetValues() {
		st := el.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("items[%d]: want object", i)
		}
		it, err := ItemFromStruct(st)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		out = append(out, it)
	}
	return out, nil
}

// WrapItem returns {"item": {...}}.
func WrapItem(s *structpb.Struct) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{FieldItem: structpb.NewStructValue(s)}}
}

// UnwrapItem returns the "item" object, or nil when missing.
func UnwrapItem(s *structpb.Struct) *structpb.Struct {
	return s.GetFields()[FieldItem].GetStructValue()
}

// --- changes ---

// ChangeToStruct encodes a realtime change. The owner is implied by the stream.
func ChangeToStruct(ch model.Change) *structpb.Struct {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldKind: structpb.NewStringValue(string(ch.Kind)),
		FieldID:   structpb.NewStringValue(ch.ID),
		FieldItem: structpb.NewNullValue(),
	}}
	if ch.Item != nil {
		out.Fields[FieldItem] = structpb.NewStructValue(ItemToStruct(*ch.Item))
	}
	return out
}

// ChangeFromStruct decodes a realtime change. Kind is not validated here.
func ChangeFromStruct(s *structpb.Struct) (model.Change, error) {
	kind, err := String(s, FieldKind)
	if err != nil {
		return model.Change{}, err
	}
	id, err := String(s, FieldID)
	if err != nil {
		return model.Change{}, err
	}
	ch := model.Change{Kind: model.ChangeKind(kind), ID: id}
	if st := UnwrapItem(s); st != nil {
		it, err := ItemFromStruct(st)
		if err != nil {
			return model.Change{}, fmt.Errorf("change item: %w", err)
		}
		ch.Item = &it
	}
	return ch, nil
}
