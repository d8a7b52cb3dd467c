package aggregation

import (
	"strconv"
	"strings"

	"temperature-bench/internal/models"
)

const (
	monthlyFieldCount = 6
	yearlyFieldCount  = 5

	// yearlyDateField holds the date-like value in the yearly layout
	yearlyDateField = 1
	// monthlyYearField holds the year in the monthly layout
	monthlyYearField = 4
)

// ParseRecord parses a data line of the monthly layout
// Format: country,city,month,day,year,avgTemp[,...]
// Fields are split on commas with no quoting support.
func ParseRecord(line string) (models.Observation, error) {
	parts := strings.Split(line, ",")
	if len(parts) < monthlyFieldCount {
		return models.Observation{}, &models.RecordError{Value: line, Kind: models.ErrMalformedRecord}
	}

	avgTemp, err := strconv.ParseFloat(parts[5], 64)
	if err != nil {
		return models.Observation{}, &models.RecordError{Value: parts[5], Kind: models.ErrInvalidTemperature, Err: err}
	}

	return models.Observation{
		Country:   parts[0],
		City:      parts[1],
		MonthText: parts[2],
		DayText:   parts[3],
		YearText:  parts[4],
		AvgTemp:   avgTemp,
	}, nil
}

// ParseYearRecord parses a data line of the yearly layout
// Format: _,dateLike,tempMax,tempMin,tempMean[,...]
// where the first four characters of dateLike are the year.
func ParseYearRecord(line string) (models.YearRow, error) {
	parts := strings.Split(line, ",")
	if len(parts) < yearlyFieldCount || len(parts[yearlyDateField]) < 4 {
		return models.YearRow{}, &models.RecordError{Value: line, Kind: models.ErrMalformedRecord}
	}

	temps := [3]float64{}
	for i := range temps {
		v, err := strconv.ParseFloat(parts[2+i], 64)
		if err != nil {
			return models.YearRow{}, &models.RecordError{Value: parts[2+i], Kind: models.ErrInvalidTemperature, Err: err}
		}
		temps[i] = v
	}

	dateLike := parts[yearlyDateField]
	return models.YearRow{
		Year:     dateLike[:4],
		DateLike: dateLike,
		TempMax:  temps[0],
		TempMin:  temps[1],
		TempMean: temps[2],
	}, nil
}

// field returns field idx of line, if present
func field(line string, idx int) (string, bool) {
	start := 0
	for i := 0; i < idx; i++ {
		n := strings.IndexByte(line[start:], ',')
		if n < 0 {
			return "", false
		}
		start += n + 1
	}
	value := line[start:]
	if n := strings.IndexByte(value, ','); n >= 0 {
		value = value[:n]
	}
	return value, true
}

// yearPrefix returns the first four characters of field idx, if present
func yearPrefix(line string, idx int) (string, bool) {
	value, ok := field(line, idx)
	if !ok || len(value) < 4 {
		return "", false
	}
	return value[:4], true
}
