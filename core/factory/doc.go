// Package factory is a generic registry that builds modules from
// configuration. A module is a type name plus raw settings; the registered
// factory decodes the settings into its own struct and returns the
// implementation.
//
//	reg := factory.NewRegistry[runlog.LogStore]()
//	reg.Register("jsonl", func(conf map[string]any) (runlog.LogStore, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return runlog.NewJSONLStore(c.Path)
//	})
//	store, err := reg.Create(factory.ModuleConfig{Type: "jsonl", Conf: map[string]any{"path": "runs.jsonl"}})
package factory
