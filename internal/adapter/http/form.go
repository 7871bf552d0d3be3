package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/quake-loss-estimator/internal/config"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
)

// Multipart fields of the upload form.
const (
	fieldBuildings   = "buildings"
	fieldUnits       = "units"
	fieldPrices      = "prices"
	fieldRatios      = "ratios"
	fieldRhoB        = "rho_b"
	fieldRhoEB       = "rho_eb"
	fieldTiandituKey = "tianditu_key"
)

// runForm is a submitted upload form. File fields hold the uploaded file names.
type runForm struct {
	Buildings   string  `validate:"required"`
	Units       string  `validate:"required"`
	Prices      string  `validate:"required"`
	Ratios      string  `validate:"required"`
	RhoB        float64 `validate:"gte=1,lte=5"`
	RhoEB       float64 `validate:"gte=1,lte=3"`
	TiandituKey string  `validate:"omitempty,max=64,printascii"`
}

// formValues echo the submitted text fields back into a re-rendered form.
type formValues struct {
	RhoB        string
	RhoEB       string
	TiandituKey string
}

var fieldLabels = map[string]string{
	fieldBuildings:   "建筑物数据（ZIP）",
	fieldUnits:       "评估单元数据（ZIP）",
	fieldPrices:      "重置单价表（CSV）",
	fieldRatios:      "损失比表（CSV）",
	fieldRhoB:        "建筑物损失扩展系数",
	fieldRhoEB:       "直接损失系数",
	fieldTiandituKey: "天地图密钥",
}

var coefficientBounds = map[string][2]float64{
	fieldRhoB:  {config.MinRhoB, config.MaxRhoB},
	fieldRhoEB: {config.MinRhoEB, config.MaxRhoEB},
}

// errTooLarge is returned when the request body exceeds the upload limit.
var errTooLarge = errors.New("upload too large")

// parseRunForm reads the multipart request into run inputs. Field problems
// are returned in the map keyed by form field; a non-nil error means the
// request itself could not be read.
func (s *Server) parseRunForm(w http.ResponseWriter, r *http.Request) (pipeline.Inputs, formValues, map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return pipeline.Inputs{}, formValues{}, nil, errTooLarge
		}
		return pipeline.Inputs{}, formValues{}, nil, fmt.Errorf("parse form: %w", err)
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp files

	values := formValues{
		RhoB:        strings.TrimSpace(r.FormValue(fieldRhoB)),
		RhoEB:       strings.TrimSpace(r.FormValue(fieldRhoEB)),
		TiandituKey: strings.TrimSpace(r.FormValue(fieldTiandituKey)),
	}
	fieldErrs := make(map[string]string)

	form := runForm{
		RhoB:        s.opts.DefaultCoefficients.RhoB,
		RhoEB:       s.opts.DefaultCoefficients.RhoEB,
		TiandituKey: values.TiandituKey,
	}
	parseCoefficient(values.RhoB, fieldRhoB, &form.RhoB, fieldErrs)
	parseCoefficient(values.RhoEB, fieldRhoEB, &form.RhoEB, fieldErrs)

	in := pipeline.Inputs{}
	uploads := []struct {
		field  string
		name   *string
		upload *pipeline.Upload
	}{
		{fieldBuildings, &form.Buildings, &in.Buildings},
		{fieldUnits, &form.Units, &in.Units},
		{fieldPrices, &form.Prices, &in.Prices},
		{fieldRatios, &form.Ratios, &in.Ratios},
	}
	for _, u := range uploads {
		upload, err := readUpload(r, u.field)
		if err != nil {
			fieldErrs[u.field] = fmt.Sprintf("%s读取失败：%v", fieldLabels[u.field], err)
			continue
		}
		*u.upload = upload
		*u.name = upload.Name
	}

	if err := s.validate.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return pipeline.Inputs{}, values, nil, fmt.Errorf("validate form: %w", err)
		}
		for _, fe := range verrs {
			field := formField(fe)
			if _, seen := fieldErrs[field]; !seen {
				fieldErrs[field] = fieldMessage(field, fe)
			}
		}
	}
	if len(fieldErrs) > 0 {
		return pipeline.Inputs{}, values, fieldErrs, nil
	}

	in.Coefficients.RhoB = form.RhoB
	in.Coefficients.RhoEB = form.RhoEB
	in.TiandituKey = form.TiandituKey
	return in, values, nil, nil
}

// parseCoefficient leaves dst at its default when raw is empty.
func parseCoefficient(raw, field string, dst *float64, fieldErrs map[string]string) {
	if raw == "" {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		fieldErrs[field] = fmt.Sprintf("%s必须是数字", fieldLabels[field])
		return
	}
	*dst = v
}

// readUpload returns an empty Upload without error when the field is absent;
// the required rule reports it.
func readUpload(r *http.Request, field string) (pipeline.Upload, error) {
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return pipeline.Upload{}, nil
	}
	if err != nil {
		return pipeline.Upload{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return pipeline.Upload{}, err
	}
	if len(data) == 0 {
		return pipeline.Upload{}, nil
	}
	return pipeline.Upload{Name: header.Filename, Data: data}, nil
}

func formField(fe validator.FieldError) string {
	switch fe.StructField() {
	case "Buildings":
		return fieldBuildings
	case "Units":
		return fieldUnits
	case "Prices":
		return fieldPrices
	case "Ratios":
		return fieldRatios
	case "RhoB":
		return fieldRhoB
	case "RhoEB":
		return fieldRhoEB
	default:
		return fieldTiandituKey
	}
}

func fieldMessage(field string, fe validator.FieldError) string {
	label := fieldLabels[field]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("请上传%s", label)
	case "gte", "lte":
		b := coefficientBounds[field]
		return fmt.Sprintf("%s必须在 %g 到 %g 之间", label, b[0], b[1])
	default:
		return fmt.Sprintf("%s格式无效", label)
	}
}
