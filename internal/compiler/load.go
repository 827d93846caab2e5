package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/latentrec/internal/ir"
)

// LoadValue builds the CUE value at path. A directory is loaded as one CUE
// instance; a file is compiled on its own.
func LoadValue(path string) (cue.Value, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, err
	}

	ctx := cuecontext.New()
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, err
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return cue.Value{}, formatCUEError(err)
		}
		return v, nil
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances in %s", path)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, formatCUEError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}

// LoadModels compiles every model declared at path.
func LoadModels(path string) ([]ir.ModelSpec, error) {
	v, err := LoadValue(path)
	if err != nil {
		return nil, err
	}
	specs, err := CompileModels(v)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no models declared in %s", path)
	}
	return specs, nil
}

// LoadModel compiles the model called name at path, or the first declared
// model when name is empty. The model spec must validate.
func LoadModel(path, name string) (*ir.Model, error) {
	specs, err := LoadModels(path)
	if err != nil {
		return nil, err
	}

	spec := &specs[0]
	if name != "" {
		spec = nil
		for i := range specs {
			if specs[i].Name == name {
				spec = &specs[i]
				break
			}
		}
		if spec == nil {
			return nil, fmt.Errorf("model %q not found in %s", name, path)
		}
	}

	if errs := Validate(spec); len(errs) > 0 {
		return nil, errs[0]
	}
	return ir.Build(*spec)
}
