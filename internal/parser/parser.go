package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/adrianmo/go-nmea"

	"github.com/saviobatista/nmea-bridge/internal/types"
)

// Reasons a line does not produce a record. All of them are dropped silently
// by Decode; callers that want to count drops use ParseSentence.
var (
	ErrNoStart     = errors.New("missing sentence start")
	ErrChecksum    = errors.New("checksum mismatch")
	ErrUnsupported = errors.New("unsupported sentence")
	ErrMalformed   = errors.New("malformed sentence")
	ErrInactive    = errors.New("status not active")
)

const (
	knotsPerMS  = 1.94384
	knotsPerKmh = 0.539957
	hPaPerBar   = 1000
)

// Reason returns a short label for a parse error, used for drop counters
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNoStart):
		return "no_start"
	case errors.Is(err, ErrChecksum):
		return "checksum"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrInactive):
		return "inactive"
	default:
		return "malformed"
	}
}

// Decode returns the record for a valid line, or false when the line is dropped
func Decode(line string) (types.Record, bool) {
	rec, err := ParseSentence(line)
	if err != nil {
		return nil, false
	}
	return rec, true
}

// ParseSentence validates one line and decodes it into a typed record
func ParseSentence(line string) (types.Record, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, nmea.SentenceStart) {
		return nil, ErrNoStart
	}

	sep := strings.LastIndex(line, nmea.ChecksumSep)
	if sep < 0 {
		return nil, fmt.Errorf("%w: no checksum", ErrChecksum)
	}
	body, sum := line[1:sep], line[sep+1:]
	if len(sum) != 2 || !strings.EqualFold(sum, nmea.Checksum(body)) {
		return nil, ErrChecksum
	}

	fields := strings.Split(body, nmea.FieldSep)
	id := fields[0]
	if len(id) != 5 {
		return nil, fmt.Errorf("%w: sentence id %q", ErrUnsupported, id)
	}

	switch code := id[2:]; code {
	case nmea.TypeRMC:
		return parseRMC(fields)
	case nmea.TypeGLL:
		return parseGLL(fields)
	case nmea.TypeVTG:
		return parseVTG(fields)
	case nmea.TypeMWV:
		return parseMWV(fields)
	case nmea.TypeMWD:
		return parseMWD(fields)
	case nmea.TypeMDA:
		return parseMDA(fields)
	case nmea.TypeXDR:
		return parseXDR(fields)
	case nmea.TypeDBT:
		return parseDepth(fields, 3)
	case nmea.TypeDPT:
		return parseDepth(fields, 1)
	default:
		return nil, fmt.Errorf("%w: type %q", ErrUnsupported, code)
	}
}

func parseRMC(f []string) (types.Record, error) {
	if field(f, 2) != "A" {
		return nil, ErrInactive
	}
	lat, lon, err := parsePosition(f, 3)
	if err != nil {
		return nil, err
	}
	sog, err := optionalFloat(f, 7)
	if err != nil {
		return nil, err
	}
	cog, err := optionalFloat(f, 8)
	if err != nil {
		return nil, err
	}
	return types.Position{Latitude: lat, Longitude: lon, SOG: sog, COGTrue: cog}, nil
}

func parseGLL(f []string) (types.Record, error) {
	if len(f) > 6 && f[6] != "A" {
		return nil, ErrInactive
	}
	lat, lon, err := parsePosition(f, 1)
	if err != nil {
		return nil, err
	}
	return types.Position{Latitude: lat, Longitude: lon}, nil
}

func parseVTG(f []string) (types.Record, error) {
	cog, err := optionalFloat(f, 1)
	if err != nil {
		return nil, err
	}
	sog, err := optionalFloat(f, 5)
	if err != nil {
		return nil, err
	}
	if cog == nil && sog == nil {
		return nil, fmt.Errorf("%w: VTG carries neither speed nor course", ErrMalformed)
	}
	return types.SOGCOG{SOG: sog, COGTrue: cog}, nil
}

func parseMWV(f []string) (types.Record, error) {
	if len(f) > 5 && f[5] != "A" {
		return nil, ErrInactive
	}

	var rec types.Wind
	switch field(f, 2) {
	case "R":
	case "T":
		rec.True = true
	default:
		return nil, fmt.Errorf("%w: MWV reference %q", ErrMalformed, field(f, 2))
	}

	angle, err := optionalFloat(f, 1)
	if err != nil {
		return nil, err
	}
	speed, err := optionalFloat(f, 3)
	if err != nil {
		return nil, err
	}
	if speed != nil {
		knots, err := toKnots(*speed, field(f, 4))
		if err != nil {
			return nil, err
		}
		speed = &knots
	}
	if angle == nil && speed == nil {
		return nil, fmt.Errorf("%w: MWV carries neither angle nor speed", ErrMalformed)
	}

	rec.Angle, rec.Speed = angle, speed
	return rec, nil
}

func parseMWD(f []string) (types.Record, error) {
	dir, err := optionalFloat(f, 1)
	if err != nil {
		return nil, err
	}
	speed, err := optionalFloat(f, 5)
	if err != nil {
		return nil, err
	}
	if dir == nil && speed == nil {
		return nil, fmt.Errorf("%w: MWD carries neither direction nor speed", ErrMalformed)
	}
	return types.WindDirection{Direction: dir, Speed: speed}, nil
}

func parseMDA(f []string) (types.Record, error) {
	bar, err := optionalFloat(f, 3)
	if err != nil {
		return nil, err
	}
	temp, err := optionalFloat(f, 5)
	if err != nil {
		return nil, err
	}
	if bar == nil && temp == nil {
		return nil, fmt.Errorf("%w: MDA carries neither pressure nor temperature", ErrMalformed)
	}

	rec := types.Baro{AirTempC: temp}
	if bar != nil {
		rec.PressureHPa = types.Float(*bar * hPaPerBar)
	}
	return rec, nil
}

// parseXDR walks the (type, value, unit, name) quadruples and keeps the first
// pressure in bar and the first temperature in Celsius.
func parseXDR(f []string) (types.Record, error) {
	var rec types.Baro
	for i := 1; i+2 < len(f); i += 4 {
		kind, unit := f[i], f[i+2]
		switch {
		case kind == "P" && unit == "B" && rec.PressureHPa == nil:
			v, err := requiredFloat(f, i+1)
			if err != nil {
				return nil, err
			}
			rec.PressureHPa = types.Float(v * hPaPerBar)
		case kind == "C" && unit == "C" && rec.AirTempC == nil:
			v, err := requiredFloat(f, i+1)
			if err != nil {
				return nil, err
			}
			rec.AirTempC = types.Float(v)
		}
	}
	if rec.PressureHPa == nil && rec.AirTempC == nil {
		return nil, fmt.Errorf("%w: XDR has no pressure or temperature transducer", ErrUnsupported)
	}
	return rec, nil
}

func parseDepth(f []string, idx int) (types.Record, error) {
	m, err := requiredFloat(f, idx)
	if err != nil {
		return nil, err
	}
	return types.Depth{Meters: m}, nil
}

func toKnots(v float64, unit string) (float64, error) {
	switch unit {
	case "N":
		return v, nil
	case "M":
		return v * knotsPerMS, nil
	case "K":
		return v * knotsPerKmh, nil
	default:
		return 0, fmt.Errorf("%w: speed unit %q", ErrMalformed, unit)
	}
}

// parsePosition reads latitude, hemisphere, longitude, hemisphere starting at idx
func parsePosition(f []string, idx int) (float64, float64, error) {
	lat, err := ParseCoordinate(field(f, idx), field(f, idx+1), 90)
	if err != nil {
		return 0, 0, err
	}
	lon, err := ParseCoordinate(field(f, idx+2), field(f, idx+3), 180)
	if err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// ParseCoordinate converts a DDDMM.MMMM field and its hemisphere letter into
// signed decimal degrees. limit is 90 for latitude and 180 for longitude.
func ParseCoordinate(value, hemisphere string, limit float64) (float64, error) {
	dot := strings.IndexByte(value, '.')
	if dot < 2 {
		return 0, fmt.Errorf("%w: coordinate %q", ErrMalformed, value)
	}
	for i := 0; i < len(value); i++ {
		if i != dot && (value[i] < '0' || value[i] > '9') {
			return 0, fmt.Errorf("%w: coordinate %q", ErrMalformed, value)
		}
	}

	var deg float64
	if dot > 2 {
		d, err := strconv.ParseFloat(value[:dot-2], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: coordinate %q", ErrMalformed, value)
		}
		deg = d
	}
	minutes, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil || minutes >= 60 {
		return 0, fmt.Errorf("%w: coordinate minutes %q", ErrMalformed, value)
	}
	deg += minutes / 60

	switch {
	case limit == 90 && hemisphere == "N", limit == 180 && hemisphere == "E":
	case limit == 90 && hemisphere == "S", limit == 180 && hemisphere == "W":
		deg = -deg
	default:
		return 0, fmt.Errorf("%w: hemisphere %q", ErrMalformed, hemisphere)
	}

	if deg < -limit || deg > limit {
		return 0, fmt.Errorf("%w: coordinate %v out of range", ErrMalformed, deg)
	}
	return deg, nil
}

func field(f []string, idx int) string {
	if idx < len(f) {
		return f[idx]
	}
	return ""
}

func optionalFloat(f []string, idx int) (*float64, error) {
	s := field(f, idx)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: field %d %q", ErrMalformed, idx, s)
	}
	return &v, nil
}

func requiredFloat(f []string, idx int) (float64, error) {
	v, err := optionalFloat(f, idx)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, fmt.Errorf("%w: field %d missing", ErrMalformed, idx)
	}
	return *v, nil
}
