package cmd

import (
	"github.com/spf13/viper"
	"github.com/unixpickle/styletransfer"
)

// setParamDefaults registers the default value of every
// model and training parameter under the "params" key.
func setParamDefaults(v *viper.Viper) {
	d := styletransfer.DefaultParams()
	v.SetDefault("params.embedding_size", d.EmbeddingSize)
	v.SetDefault("params.dim_y", d.DimY)
	v.SetDefault("params.dim_z", d.DimZ)
	v.SetDefault("params.batch_size", d.BatchSize)
	v.SetDefault("params.epochs", d.Epochs)
	v.SetDefault("params.steps_per_epoch", d.StepsPerEpoch)
	v.SetDefault("params.in_memory", d.InMemory)
	v.SetDefault("params.temperature", d.Temperature)
	v.SetDefault("params.lambda", d.Lambda)
	v.SetDefault("params.dropout", d.Dropout)
	v.SetDefault("params.max_loss", d.MaxLoss)
	v.SetDefault("params.grad_clip", d.GradClip)
	v.SetDefault("params.max_d_loss", d.MaxDLoss)
	v.SetDefault("params.beam_width", d.BeamWidth)
	v.SetDefault("params.max_len", d.MaxLen)
	v.SetDefault("params.learning_rate", d.LearningRate)
	v.SetDefault("params.disc_learning_rate", d.DiscLearningRate)
	v.SetDefault("params.beta1", d.Beta1)
	v.SetDefault("params.beta2", d.Beta2)
	v.SetDefault("params.disc_channels", d.DiscChannels)
	v.SetDefault("params.kernel_sizes", d.KernelSizes)
	v.SetDefault("params.disc_dropout", d.DiscDropout)
	v.SetDefault("params.log_interval", d.LogInterval)
	v.SetDefault("params.decode_workers", d.DecodeWorkers)
	v.SetDefault("params.save_file", d.SaveFile)
}

// paramsFrom reads Params from a viper instance.
func paramsFrom(v *viper.Viper) *styletransfer.Params {
	return &styletransfer.Params{
		EmbeddingSize:    v.GetInt("params.embedding_size"),
		DimY:             v.GetInt("params.dim_y"),
		DimZ:             v.GetInt("params.dim_z"),
		BatchSize:        v.GetInt("params.batch_size"),
		Epochs:           v.GetInt("params.epochs"),
		StepsPerEpoch:    v.GetInt("params.steps_per_epoch"),
		InMemory:         v.GetBool("params.in_memory"),
		Temperature:      v.GetFloat64("params.temperature"),
		Lambda:           v.GetFloat64("params.lambda"),
		Dropout:          v.GetFloat64("params.dropout"),
		MaxLoss:          v.GetFloat64("params.max_loss"),
		GradClip:         v.GetFloat64("params.grad_clip"),
		MaxDLoss:         v.GetFloat64("params.max_d_loss"),
		BeamWidth:        v.GetInt("params.beam_width"),
		MaxLen:           v.GetInt("params.max_len"),
		LearningRate:     v.GetFloat64("params.learning_rate"),
		DiscLearningRate: v.GetFloat64("params.disc_learning_rate"),
		Beta1:            v.GetFloat64("params.beta1"),
		Beta2:            v.GetFloat64("params.beta2"),
		DiscChannels:     v.GetInt("params.disc_channels"),
		KernelSizes:      v.GetIntSlice("params.kernel_sizes"),
		DiscDropout:      v.GetFloat64("params.disc_dropout"),
		LogInterval:      v.GetInt("params.log_interval"),
		DecodeWorkers:    v.GetInt("params.decode_workers"),
		SaveFile:         v.GetString("params.save_file"),
	}
}
