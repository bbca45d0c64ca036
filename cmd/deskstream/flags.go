package main

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// bindFlag makes key follow f when the flag is set on the command line.
func bindFlag(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}
