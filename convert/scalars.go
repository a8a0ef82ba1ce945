package convert

import (
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/rediwo/redi-migrate/schema"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func registerBuiltins(m *Matrix) {
	str := schema.TypeString
	numbers := []schema.TypeKey{schema.TypeInteger, schema.TypeLong, schema.TypeFloat, schema.TypeDecimal}
	serverTypes := map[schema.TypeKey]string{
		schema.TypeInteger:  "int",
		schema.TypeLong:     "long",
		schema.TypeFloat:    "double",
		schema.TypeDecimal:  "decimal",
		schema.TypeBoolean:  "bool",
		schema.TypeDateTime: "date",
		schema.TypeObjectID: "objectId",
		schema.TypeString:   "string",
	}

	// anything scalar renders as a string
	for _, from := range []schema.TypeKey{
		schema.TypeInteger, schema.TypeLong, schema.TypeFloat, schema.TypeDecimal,
		schema.TypeBoolean, schema.TypeDateTime, schema.TypeObjectID, schema.TypeUUID,
		schema.TypeURL, schema.TypeEmail,
	} {
		m.Register(Entry{From: from, To: str, Kind: Lossless, Convert: toString, ServerType: serverTypes[str]})
	}

	// numbers between each other and from strings
	for _, to := range numbers {
		m.Register(Entry{From: str, To: to, Kind: Lossy, Convert: numberConverter(to), ServerType: serverTypes[to]})
		m.Register(Entry{From: schema.TypeBoolean, To: to, Kind: Lossless, Convert: numberConverter(to), ServerType: serverTypes[to]})
		for _, from := range numbers {
			if from == to {
				continue
			}
			kind := Lossy
			if widens(from, to) {
				kind = Lossless
			}
			m.Register(Entry{From: from, To: to, Kind: kind, Convert: numberConverter(to), ServerType: serverTypes[to]})
		}
	}

	m.Register(Entry{From: str, To: schema.TypeBoolean, Kind: Lossy, Convert: toBoolean, ServerType: serverTypes[schema.TypeBoolean]})
	for _, from := range numbers {
		m.Register(Entry{From: from, To: schema.TypeBoolean, Kind: Lossy, Convert: toBoolean, ServerType: serverTypes[schema.TypeBoolean]})
	}

	m.Register(Entry{From: str, To: schema.TypeDateTime, Kind: Lossy, Convert: toDateTime, ServerType: serverTypes[schema.TypeDateTime]})
	m.Register(Entry{From: str, To: schema.TypeObjectID, Kind: Lossy, Convert: toObjectID, ServerType: serverTypes[schema.TypeObjectID]})
	m.Register(Entry{From: str, To: schema.TypeUUID, Kind: Lossy, Convert: toUUID})
	m.Register(Entry{From: schema.TypeBinary, To: schema.TypeUUID, Kind: Lossy, Convert: toUUID})
	m.Register(Entry{From: schema.TypeUUID, To: schema.TypeBinary, Kind: Lossless, Convert: uuidToBinary})
	m.Register(Entry{From: str, To: schema.TypeURL, Kind: Lossy, Convert: toURL})
	m.Register(Entry{From: str, To: schema.TypeEmail, Kind: Lossy, Convert: toEmail})
	m.Register(Entry{From: schema.TypeURL, To: schema.TypeEmail, Kind: Lossy, Convert: chain(toString, toEmail)})
	m.Register(Entry{From: schema.TypeEmail, To: schema.TypeURL, Kind: Lossy, Convert: chain(toString, toURL)})

	// references are stored as the referenced ObjectId or as a DBRef document
	m.Register(Entry{From: schema.TypeObjectID, To: schema.TypeReference, Kind: Lossless, Convert: identity})
	m.Register(Entry{From: schema.TypeReference, To: schema.TypeObjectID, Kind: Lossy, Convert: referenceToObjectID})
	m.Register(Entry{From: str, To: schema.TypeReference, Kind: Lossy, Convert: toObjectID})
	m.Register(Entry{From: schema.TypeReference, To: str, Kind: Lossy, Convert: chain(referenceToObjectID, toString)})

	m.Register(Entry{From: schema.TypeEmbedded, To: schema.TypeDict, Kind: Lossless, Convert: identity})
	m.Register(Entry{From: schema.TypeDict, To: schema.TypeEmbedded, Kind: Lossy, Convert: toDocument})
}

func chain(fns ...Func) Func {
	return func(v any, from, to schema.Field) (any, error) {
		var err error
		for _, fn := range fns {
			if v, err = fn(v, from, to); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

func widens(from, to schema.TypeKey) bool {
	rank := map[schema.TypeKey]int{schema.TypeInteger: 0, schema.TypeLong: 1, schema.TypeFloat: 2, schema.TypeDecimal: 3}
	return rank[to] > rank[from] && !(from == schema.TypeLong && to == schema.TypeFloat)
}

func toString(v any, _, _ schema.Field) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case int:
		return strconv.Itoa(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case primitive.Decimal128:
		return val.String(), nil
	case primitive.ObjectID:
		return val.Hex(), nil
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano), nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case primitive.Binary:
		if u, err := uuid.FromBytes(val.Data); err == nil {
			return u.String(), nil
		}
		return nil, fmt.Errorf("binary value of %d bytes has no string form", len(val.Data))
	}
	return nil, fmt.Errorf("cannot convert %T to string", v)
}

func numberConverter(to schema.TypeKey) Func {
	return func(v any, _, _ schema.Field) (any, error) {
		f, isInt, i, err := asNumber(v)
		if err != nil {
			return nil, err
		}
		switch to {
		case schema.TypeInteger, schema.TypeLong:
			if !isInt {
				if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
					return nil, fmt.Errorf("%v is not an integer", v)
				}
				i = int64(f)
			}
			if to == schema.TypeInteger && i >= math.MinInt32 && i <= math.MaxInt32 {
				return int32(i), nil
			}
			return i, nil
		case schema.TypeFloat:
			if isInt {
				return float64(i), nil
			}
			return f, nil
		case schema.TypeDecimal:
			s := strconv.FormatFloat(f, 'f', -1, 64)
			if isInt {
				s = strconv.FormatInt(i, 10)
			}
			if d, ok := v.(primitive.Decimal128); ok {
				return d, nil
			}
			if str, ok := v.(string); ok {
				s = strings.TrimSpace(str)
			}
			return primitive.ParseDecimal128(s)
		}
		return nil, fmt.Errorf("unknown numeric type %s", to)
	}
}

// asNumber reads a numeric value. isInt reports whether i holds it exactly.
func asNumber(v any) (f float64, isInt bool, i int64, err error) {
	switch val := v.(type) {
	case int32:
		return float64(val), true, int64(val), nil
	case int64:
		return float64(val), true, val, nil
	case int:
		return float64(val), true, int64(val), nil
	case float64:
		return val, false, 0, nil
	case bool:
		if val {
			return 1, true, 1, nil
		}
		return 0, true, 0, nil
	case primitive.Decimal128:
		bi, exp, derr := val.BigInt()
		if derr != nil {
			return 0, false, 0, derr
		}
		if exp == 0 && bi.IsInt64() {
			return float64(bi.Int64()), true, bi.Int64(), nil
		}
		f, perr := strconv.ParseFloat(val.String(), 64)
		return f, false, 0, perr
	case string:
		s := strings.TrimSpace(val)
		if n, perr := strconv.ParseInt(s, 10, 64); perr == nil {
			return float64(n), true, n, nil
		}
		f, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return 0, false, 0, fmt.Errorf("%q is not a number", val)
		}
		return f, false, 0, nil
	}
	return 0, false, 0, fmt.Errorf("cannot convert %T to a number", v)
}

func toBoolean(v any, _, _ schema.Field) (any, error) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off", "":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", s)
	}
	f, isInt, i, err := asNumber(v)
	if err != nil {
		return nil, err
	}
	if isInt {
		return i != 0, nil
	}
	return f != 0, nil
}

func toDateTime(v any, _, _ schema.Field) (any, error) {
	switch val := v.(type) {
	case primitive.DateTime:
		return val, nil
	case time.Time:
		return primitive.NewDateTimeFromTime(val), nil
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return primitive.NewDateTimeFromTime(t), nil
			}
		}
		return nil, fmt.Errorf("%q is not a date", val)
	}
	return nil, fmt.Errorf("cannot convert %T to a date", v)
}

func toObjectID(v any, _, _ schema.Field) (any, error) {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val, nil
	case string:
		return primitive.ObjectIDFromHex(strings.TrimSpace(val))
	}
	return nil, fmt.Errorf("cannot convert %T to an ObjectId", v)
}

func referenceToObjectID(v any, _, _ schema.Field) (any, error) {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val, nil
	case primitive.DBPointer:
		return val.Pointer, nil
	case bson.M:
		if id, ok := val["$id"].(primitive.ObjectID); ok {
			return id, nil
		}
	case bson.D:
		for _, e := range val {
			if id, ok := e.Value.(primitive.ObjectID); ok && e.Key == "$id" {
				return id, nil
			}
		}
	}
	return nil, fmt.Errorf("cannot extract an ObjectId from %T", v)
}

func toUUID(v any, _, _ schema.Field) (any, error) {
	switch val := v.(type) {
	case string:
		u, err := uuid.Parse(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("%q is not a UUID", val)
		}
		return primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: u[:]}, nil
	case primitive.Binary:
		if _, err := uuid.FromBytes(val.Data); err != nil {
			return nil, fmt.Errorf("binary value is not a UUID: %w", err)
		}
		return primitive.Binary{Subtype: bson.TypeBinaryUUID, Data: val.Data}, nil
	}
	return nil, fmt.Errorf("cannot convert %T to a UUID", v)
}

func uuidToBinary(v any, _, _ schema.Field) (any, error) {
	if b, ok := v.(primitive.Binary); ok {
		return primitive.Binary{Subtype: bson.TypeBinaryGeneric, Data: b.Data}, nil
	}
	u, err := toUUID(v, schema.Field{}, schema.Field{})
	if err != nil {
		return nil, err
	}
	return primitive.Binary{Subtype: bson.TypeBinaryGeneric, Data: u.(primitive.Binary).Data}, nil
}

func toURL(v any, _, _ schema.Field) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("cannot convert %T to a URL", v)
	}
	u, err := url.ParseRequestURI(strings.TrimSpace(s))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not a URL", s)
	}
	return u.String(), nil
}

func toEmail(v any, _, _ schema.Field) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("cannot convert %T to an email", v)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%q is not an email address", s)
	}
	return addr.Address, nil
}

func toDocument(v any, _, _ schema.Field) (any, error) {
	switch v.(type) {
	case bson.M, bson.D, map[string]any:
		return v, nil
	}
	return nil, fmt.Errorf("cannot convert %T to an embedded document", v)
}
